package types

// Model is a loadable model found in the models directory.
type Model struct {
	// Identifier used as model_id when loading.
	// example: Mistral-7B-Instruct-AWQ
	ID string `json:"id" example:"Mistral-7B-Instruct-AWQ"`
	// File or directory name on disk.
	// example: Mistral-7B-Instruct-AWQ
	Name string `json:"name" example:"Mistral-7B-Instruct-AWQ"`
	// Absolute path to the weights.
	// example: /models/Mistral-7B-Instruct-AWQ
	Path string `json:"path" example:"/models/Mistral-7B-Instruct-AWQ"`
	// Quantization marker read from the name, if any.
	// example: awq
	Quant string `json:"quant,omitempty" example:"awq"`
	// Prompt family detected from the id.
	// example: mistral
	Family string `json:"family,omitempty" example:"mistral"`
}
