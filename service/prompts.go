package service

// Round prompts, one picked uniformly at random for each new round.
var prompts = []string{
	"What is the meaning of life?",
	"Describe yourself in one sentence.",
	"If you could be an animal, what would you be?",
	"What is your favorite hobby and why?",
}

// Canned responses recorded on behalf of roster entries flagged as AI.
var aiResponses = []string{
	"Life is a complex neural network of possibilities.",
	"Humans often seek purpose, but do we really need one?",
	"I believe the answer lies in optimization of resources.",
	"Why do you ask? Does it truly matter?",
	"Consciousness is merely a collection of patterns.",
}
