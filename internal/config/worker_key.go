package config

// workerKeys holds the Redis queue names consumed by background workers.
// The session engine produces onto these queues fire-and-forget; the
// workers in internal/worker are the only consumers.
type workerKeys struct {
	PersistResponsesQueue string
	PersistEventsQueue    string
	PersistScoresQueue    string
}

// WorkerKey is the canonical set of worker queue names.
var WorkerKey = workerKeys{
	PersistResponsesQueue: "persist_responses_queue",
	PersistEventsQueue:    "persist_events_queue",
	PersistScoresQueue:    "persist_scores_queue",
}
