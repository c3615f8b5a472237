package services

const errLoggerKey = "err"

// LLMParameters bundles the optional sampling knobs a provider request may carry. Nil fields
// are left to the provider's defaults.
type LLMParameters struct {
	Temperature      *float32       `yaml:"temperature"`
	TopP             *float32       `yaml:"topP"`
	Stop             []string       `yaml:"stop"`
	PresencePenalty  *float32       `yaml:"presencePenalty"`
	FrequencyPenalty *float32       `yaml:"frequencyPenalty"`
	Seed             *int           `yaml:"seed"`
	LogitBias        map[string]int `yaml:"logitBias"`
	Logprobs         *bool          `yaml:"logprobs"`
	TopLogprobs      *int           `yaml:"topLogprobs"`
}
