package core

// EstimateOutputTokens approximates a token count from text length.
// Roughly four characters per token, rounded up.
func EstimateOutputTokens(text string) int64 {
	if len(text) == 0 {
		return 0
	}
	return (int64(len(text)) + 3) / 4
}
