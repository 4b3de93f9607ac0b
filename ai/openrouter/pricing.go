package openrouter

// price is USD per million tokens
type price struct {
	prompt     float64
	completion float64
}

// Report generation runs on small models; unknown models are priced at zero
// and only show up as such in debug logs.
var modelPrices = map[string]price{
	"openai/gpt-4o-mini":               {prompt: 0.15, completion: 0.60},
	"openai/gpt-4o":                    {prompt: 2.50, completion: 10.00},
	"anthropic/claude-3.5-haiku":       {prompt: 0.80, completion: 4.00},
	"anthropic/claude-3.5-sonnet":      {prompt: 3.00, completion: 15.00},
	"google/gemini-flash-1.5":          {prompt: 0.075, completion: 0.30},
	"meta-llama/llama-3.1-8b-instruct": {prompt: 0.055, completion: 0.055},
}

// EstimateCost returns the USD cost of a call, or 0 for an unpriced model
func EstimateCost(model string, promptTokens, completionTokens int) float64 {
	p, ok := modelPrices[model]
	if !ok {
		return 0
	}
	return float64(promptTokens)/1_000_000*p.prompt + float64(completionTokens)/1_000_000*p.completion
}
