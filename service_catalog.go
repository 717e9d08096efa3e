// service_catalog.go: built-in backend services
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hubconfig

// Built-in service names.
const (
	ServiceSD            = "sd"
	ServiceComfyUI       = "comfyui"
	ServiceMotionCtrl    = "motion_ctrl"
	ServiceOllama        = "ollama"
	ServicePetals        = "petals"
	ServiceLollms        = "lollms"
	ServiceElasticSearch = "elastic_search"
	ServiceVLLM          = "vllm"
	ServiceXTTS          = "xtts"
	ServiceWhisper       = "whisper"
)

// DefaultServiceSpecs returns the built-in backends, keyed on DefaultSchema.
func DefaultServiceSpecs() []ServiceSpec {
	return []ServiceSpec{
		{Name: ServiceSD, Kind: "image-gen", EnableKey: "enable_sd_service", URLKey: "sd_base_url"},
		{Name: ServiceComfyUI, Kind: "image-gen", EnableKey: "enable_comfyui_service", URLKey: "comfyui_base_url"},
		{Name: ServiceMotionCtrl, Kind: "motion-control", EnableKey: "enable_motion_ctrl_service", URLKey: "motion_ctrl_base_url"},
		{Name: ServiceOllama, Kind: "llm", EnableKey: "enable_ollama_service", URLKey: "ollama_base_url"},
		{Name: ServicePetals, Kind: "llm", EnableKey: "enable_petals_service", URLKey: "petals_base_url",
			ExtraKeys: []string{"petals_model_path", "petals_device"}},
		{Name: ServiceLollms, Kind: "llm", EnableKey: "enable_lollms_service", URLKey: "lollms_base_url"},
		{Name: ServiceElasticSearch, Kind: "vectorization", EnableKey: "elastic_search_service", URLKey: "elastic_search_url",
			ExtraKeys: []string{"elastic_search_api_key"}},
		{Name: ServiceVLLM, Kind: "llm", EnableKey: "enable_vllm_service", URLKey: "vllm_url",
			ExtraKeys: []string{"vllm_gpu_memory_utilization", "vllm_max_num_seqs", "vllm_max_model_len", "vllm_model_path"}},
		{Name: ServiceXTTS, Kind: "speech", EnableKey: "enable_voice_service", URLKey: "xtts_base_url",
			ExtraKeys: []string{"xtts_use_deepspeed"}},
		{Name: ServiceWhisper, Kind: "speech-to-text", EnableKey: "whisper_activate", URLLess: true,
			ExtraKeys: []string{"whisper_model"}},
	}
}

// DefaultServices returns a sealed registry holding every built-in backend.
func DefaultServices(logger any) *ServiceRegistry {
	r := NewServiceRegistry(logger)
	for _, spec := range DefaultServiceSpecs() {
		if err := r.Register(spec.Name, spec.Factory()); err != nil {
			panic(err)
		}
	}
	r.Seal()
	return r
}
