package openaitts

// Voices maps the numeric voice ids used by the pipelines to OpenAI voice names
var Voices = map[int]string{
	1: "alloy",
	2: "echo",
	3: "fable",
	4: "onyx",
	5: "nova",
	6: "shimmer",
	7: "coral",
}

// Presets are delivery instructions sent with models that accept them
var Presets = map[string]string{
	"default": "",
	"storyteller": "Affect: warm and gently instructive. Tone: calm and encouraging. " +
		"Pacing: slow, with frequent pauses so the listener can follow. " +
		"Emotion: cheerful and supportive.",
	"formal": "Affect: measured and precise. Tone: authoritative and composed. " +
		"Pacing: even and methodical. Pronunciation: crisp, careful with technical terms. " +
		"Pauses: between major points.",
	"cheerful": "Affect: bright and uplifting. Tone: warm and inviting. " +
		"Pacing: lively, slightly faster than average. " +
		"Pauses: brief, keeping the energy up.",
}
