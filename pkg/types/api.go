package types

// GenerateRequest is the body of POST /generate.
type GenerateRequest struct {
	// Prompt text to complete.
	// example: What is the speed of light?
	Prompt string `json:"prompt" example:"What is the speed of light?"`
	// Maximum number of new tokens to generate. Defaults to 200.
	// example: 200
	MaxTokens int `json:"max_tokens,omitempty" example:"200"`
}

// Response sources.
const (
	SourceAccelerator = "accelerator"
	SourceCache       = "cache"
)

// GenerateResponse is returned by POST /generate.
type GenerateResponse struct {
	// Generated text.
	// example: Approximately 299,792 kilometers per second.
	Response string `json:"response" example:"Approximately 299,792 kilometers per second."`
	// Model that produced (or originally produced) the response.
	// example: Mistral-7B-Instruct-AWQ
	ModelUsed string `json:"model_used" example:"Mistral-7B-Instruct-AWQ"`
	// Where the response came from: accelerator or cache.
	// example: accelerator
	Source string `json:"source" example:"accelerator"`
	// Cosine distance of the cache hit; omitted for accelerator responses.
	// example: 0.04
	Distance *float64 `json:"distance,omitempty" example:"0.04"`
}

// LoadModelRequest is the body of POST /admin/load-model.
type LoadModelRequest struct {
	// Identifier the model is served under.
	// example: Mistral-7B-Instruct-AWQ
	ModelID string `json:"model_id" example:"Mistral-7B-Instruct-AWQ"`
	// Path or hub id of the weights. Optional when model_id names a model in
	// the models directory.
	// example: /models/Mistral-7B-Instruct-AWQ
	ModelPath string `json:"model_path,omitempty" example:"/models/Mistral-7B-Instruct-AWQ"`
	// Quantization scheme; "None" loads standard weights. Defaults to awq.
	// example: awq
	Quantization string `json:"quantization,omitempty" example:"awq"`
	// Explicit prompt family (mistral, llama3, chatml, native, generic).
	// Detected from model_id when omitted.
	// example: mistral
	Family string `json:"family,omitempty" example:"mistral"`
}

// LoadModelResponse is returned by POST /admin/load-model.
type LoadModelResponse struct {
	// example: success
	Status string `json:"status" example:"success"`
	// example: Loaded Mistral-7B-Instruct-AWQ
	Message string `json:"message" example:"Loaded Mistral-7B-Instruct-AWQ"`
}

// UnloadModelResponse is returned by POST /admin/unload-model.
type UnloadModelResponse struct {
	// example: unloaded
	Status string `json:"status" example:"unloaded"`
	// Model that was resident before the call; empty when none was.
	// example: Mistral-7B-Instruct-AWQ
	ModelID string `json:"model_id,omitempty" example:"Mistral-7B-Instruct-AWQ"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	// example: ok
	Status string `json:"status" example:"ok"`
	// Resident model id, or null when none is loaded.
	// example: Mistral-7B-Instruct-AWQ
	CurrentModel *string `json:"current_model" example:"Mistral-7B-Instruct-AWQ"`
	// example: true
	ModelLoaded bool `json:"model_loaded" example:"true"`
	// True while an accelerator operation holds the admission token.
	// example: false
	GPULocked bool `json:"gpu_locked" example:"false"`
}

// ModelStatus describes the resident model in /status.
type ModelStatus struct {
	// example: Mistral-7B-Instruct-AWQ
	ID string `json:"id" example:"Mistral-7B-Instruct-AWQ"`
	// example: /models/Mistral-7B-Instruct-AWQ
	Path string `json:"path" example:"/models/Mistral-7B-Instruct-AWQ"`
	// example: awq
	Quantization string `json:"quantization" example:"awq"`
	// example: mistral
	Family string `json:"family" example:"mistral"`
	// Load time in unix seconds.
	// example: 1700000000
	LoadedAt int64 `json:"loaded_at_unix" example:"1700000000"`
}

// CacheModelStatus counts cache entries for one model.
type CacheModelStatus struct {
	// example: Mistral-7B-Instruct-AWQ
	ModelID string `json:"model_id" example:"Mistral-7B-Instruct-AWQ"`
	// example: 42
	Entries int `json:"entries" example:"42"`
}

// CacheStatus summarizes the semantic cache in /status.
type CacheStatus struct {
	// example: true
	Enabled bool `json:"enabled" example:"true"`
	// example: true
	ReadEnabled bool `json:"read_enabled" example:"true"`
	// example: 0.2
	Threshold float64            `json:"threshold" example:"0.2"`
	Models    []CacheModelStatus `json:"models"`
	// Optional error reading cache statistics.
	Error string `json:"error,omitempty"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Slot state: empty or loaded.
	// example: loaded
	State string `json:"state" example:"loaded"`
	// Runtime name (llama, llama-server, vllm).
	// example: vllm
	Runtime string       `json:"runtime" example:"vllm"`
	Model   *ModelStatus `json:"model,omitempty"`
	// Last load failure, cleared by a successful load.
	LastError string `json:"last_error,omitempty"`
	// example: false
	GPULocked bool `json:"gpu_locked" example:"false"`
	// example: 12
	AdmissionsTotal uint64 `json:"admissions_total" example:"12"`
	// example: 3
	LoadsTotal uint64 `json:"loads_total" example:"3"`
	// example: 2
	UnloadsTotal uint64      `json:"unloads_total" example:"2"`
	Cache        CacheStatus `json:"cache"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

// ModelsResponse wraps the models found in the models directory.
type ModelsResponse struct {
	Models []Model `json:"models"`
}

// CreateKeyRequest is the body of POST /admin/keys.
type CreateKeyRequest struct {
	// example: My Mobile App
	Name string `json:"name" example:"My Mobile App"`
}

// CreateKeyResponse carries the raw key. It is shown only once.
type CreateKeyResponse struct {
	// example: 5f0c6f1e-2a55-4a8e-9a43-3c1f8f3f2b10
	ID string `json:"id" example:"5f0c6f1e-2a55-4a8e-9a43-3c1f8f3f2b10"`
	// example: My Mobile App
	Name string `json:"name" example:"My Mobile App"`
	// example: sk-live-3q2+7w...
	APIKey string `json:"api_key" example:"sk-live-3q2+7w..."`
	// example: Save this key. It will not be shown again.
	Message string `json:"message" example:"Save this key. It will not be shown again."`
}

// APIKeyResponse describes a stored key without its secret.
type APIKeyResponse struct {
	// example: 5f0c6f1e-2a55-4a8e-9a43-3c1f8f3f2b10
	ID string `json:"id" example:"5f0c6f1e-2a55-4a8e-9a43-3c1f8f3f2b10"`
	// example: My Mobile App
	Name string `json:"name" example:"My Mobile App"`
	// example: sk-live-3q2+
	Prefix string `json:"prefix" example:"sk-live-3q2+"`
	// Creation time in RFC 3339.
	// example: 2025-01-02T03:04:05Z
	Created string `json:"created" example:"2025-01-02T03:04:05Z"`
	// Last use in RFC 3339, omitted when never used.
	LastUsed string `json:"last_used,omitempty"`
}

// RevokeKeyResponse is returned by DELETE /admin/keys/{id}.
type RevokeKeyResponse struct {
	// example: revoked
	Status string `json:"status" example:"revoked"`
	// example: 5f0c6f1e-2a55-4a8e-9a43-3c1f8f3f2b10
	ID string `json:"id" example:"5f0c6f1e-2a55-4a8e-9a43-3c1f8f3f2b10"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}
