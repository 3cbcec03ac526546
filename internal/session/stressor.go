package session

// stressorMessages are the fixed time-pressure nudges shown by the banner.
var stressorMessages = []string{
	"99% of students answered this correctly. Can you?",
	"This one should be easy. Don't overthink it.",
	"Tick-tock: others finished in half the time.",
	"Your instructor is reviewing timings on this one.",
}
