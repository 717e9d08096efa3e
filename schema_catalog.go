// schema_catalog.go: built-in setting catalog for the hub
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hubconfig

// CurrentSchemaVersion is the version of the built-in catalog.
const CurrentSchemaVersion = 81

// Gate keys.
const (
	KeyCodeExecution           = "turn_on_code_execution"
	KeyCodeValidation          = "turn_on_code_validation"
	KeySettingUpdateValidation = "turn_on_setting_update_validation"
	KeyRemoteAccess            = "force_accept_remote_access"
	KeyOpenFileValidation      = "turn_on_open_file_validation"
	KeySendFileValidation      = "turn_on_send_file_validation"
)

var (
	positive   = Range{Min: Bound(0), MinExclusive: true}
	atLeastOne = Range{Min: Bound(1)}
	nonNeg     = Range{Min: Bound(0)}
	unitOpen   = Range{Min: Bound(0), Max: Bound(1), MinExclusive: true}
)

// DefaultSchema returns the sealed built-in catalog.
func DefaultSchema() *SchemaRegistry {
	r := NewSchemaRegistry()
	r.MustRegister(listenerSettings()...)
	r.MustRegister(identitySettings()...)
	r.MustRegister(generationSettings()...)
	r.MustRegister(gateSettings()...)
	r.MustRegister(serviceSettings()...)
	r.Seal()
	return r
}

func listenerSettings() []SettingDescriptor {
	return []SettingDescriptor{
		{Key: "host", Type: TypeString, Default: String("localhost"), IntroducedIn: 1,
			Description: "Interface the hub listens on"},
		{Key: "port", Type: TypeInt, Default: Int(9600), IntroducedIn: 1,
			Constraint:  Range{Min: Bound(1), Max: Bound(65535)},
			Description: "Listener port"},
		{Key: "headless_server_mode", Type: TypeBool, Default: Bool(false), IntroducedIn: 30,
			Description: "Serve the API without the web UI"},
		{Key: "allowed_origins", Type: TypeList, Default: List(), IntroducedIn: 74,
			Description: "Extra CORS origins"},
	}
}

func identitySettings() []SettingDescriptor {
	return []SettingDescriptor{
		{Key: "binding_name", Type: TypeString, Default: String(""), IntroducedIn: 1},
		{Key: "model_name", Type: TypeString, Default: String(""), IntroducedIn: 1},
		{Key: "models_path", Type: TypePath, Default: String("${HUB_DATA_DIR:-personal_data}/models"), IntroducedIn: 1},
		{Key: "user_name", Type: TypeString, Default: String("user"), IntroducedIn: 1,
			Constraint: MustPattern(`^[A-Za-z0-9_ .-]{1,64}$`)},
		{Key: "personalities", Type: TypeList, Default: List(String("generic/lollms")), IntroducedIn: 1},
		{Key: "discussion_prompt_separator", Type: TypeString, Default: String("!@>"), IntroducedIn: 1},
		{Key: "auto_update", Type: TypeBool, Default: Bool(true), IntroducedIn: 10},
		{Key: "hardware_mode", Type: TypeEnum, Default: String("cpu"), IntroducedIn: 56,
			Constraint: AllowedSet{"cpu", "cpu-noavx", "nvidia", "nvidia-tensorcores", "amd", "amd-noavx", "apple-intel", "apple-silicon"}},
		{Key: "hf_token", Type: TypeString, Default: String(""), IntroducedIn: 55, Sensitive: true,
			Description: "Hugging Face access token"},
	}
}

func generationSettings() []SettingDescriptor {
	return []SettingDescriptor{
		{Key: "seed", Type: TypeInt, Default: Int(-1), IntroducedIn: 1,
			Constraint: Range{Min: Bound(-1)}, Description: "-1 picks a random seed"},
		{Key: "n_threads", Type: TypeInt, Default: Int(1), IntroducedIn: 1, Constraint: atLeastOne},
		{Key: "ctx_size", Type: TypeInt, Default: Int(4084), IntroducedIn: 1, Constraint: atLeastOne},
		{Key: "n_predict", Type: TypeInt, Default: Int(1024), IntroducedIn: 1, Constraint: atLeastOne},
		{Key: "min_n_predict", Type: TypeInt, Default: Int(512), IntroducedIn: 39, Constraint: atLeastOne},
		{Key: "max_n_predict", Type: TypeInt, Default: Int(4096), IntroducedIn: 39, Constraint: atLeastOne},
		{Key: "temperature", Type: TypeFloat, Default: Float(0.4), IntroducedIn: 1, Constraint: positive},
		{Key: "top_k", Type: TypeInt, Default: Int(50), IntroducedIn: 1, Constraint: atLeastOne},
		{Key: "top_p", Type: TypeFloat, Default: Float(0.6), IntroducedIn: 1, Constraint: unitOpen},
		{Key: "repeat_penalty", Type: TypeFloat, Default: Float(1.3), IntroducedIn: 1, Constraint: Range{Min: Bound(1)}},
		{Key: "repeat_last_n", Type: TypeInt, Default: Int(40), IntroducedIn: 1, Constraint: nonNeg},
		{Key: "num_experts_per_token", Type: TypeInt, Default: Int(2), IntroducedIn: 81, Constraint: atLeastOne,
			Description: "Experts routed per token for mixture-of-experts models"},
	}
}

func gateSettings() []SettingDescriptor {
	out := make([]SettingDescriptor, 0, len(gateTable))
	for _, g := range gateTable {
		out = append(out, SettingDescriptor{
			Key:          g.Key,
			Type:         TypeBool,
			Default:      Bool(g.Restrictive),
			IntroducedIn: g.introducedIn,
			Description:  g.description,
		})
	}
	return out
}

func serviceSettings() []SettingDescriptor {
	return []SettingDescriptor{
		{Key: "enable_sd_service", Type: TypeBool, Default: Bool(false), IntroducedIn: 20},
		{Key: "sd_base_url", Type: TypeURL, Default: String("http://localhost:7860"), IntroducedIn: 42},

		{Key: "enable_ollama_service", Type: TypeBool, Default: Bool(false), IntroducedIn: 45},
		{Key: "ollama_base_url", Type: TypeURL, Default: String("http://localhost:11434"), IntroducedIn: 45},

		{Key: "enable_petals_service", Type: TypeBool, Default: Bool(false), IntroducedIn: 47},
		{Key: "petals_base_url", Type: TypeURL, Default: String("http://localhost:8064"), IntroducedIn: 47},
		{Key: "petals_model_path", Type: TypeString, Default: String("TinyLlama/TinyLlama-1.1B-Chat-v1.0"), IntroducedIn: 47},
		{Key: "petals_device", Type: TypeEnum, Default: String("cuda"), IntroducedIn: 47,
			Constraint: AllowedSet{"cuda", "cpu", "mps"}},

		{Key: "enable_lollms_service", Type: TypeBool, Default: Bool(false), IntroducedIn: 49},
		{Key: "lollms_base_url", Type: TypeURL, Default: String("http://localhost:1234"), IntroducedIn: 49},

		{Key: "enable_vllm_service", Type: TypeBool, Default: Bool(false), IntroducedIn: 57},
		{Key: "vllm_url", Type: TypeURL, Default: String("http://localhost:8000"), IntroducedIn: 58},
		{Key: "vllm_model_path", Type: TypeString, Default: String("TinyLlama/TinyLlama-1.1B-Chat-v1.0"), IntroducedIn: 57},
		{Key: "vllm_gpu_memory_utilization", Type: TypeFloat, Default: Float(0.9), IntroducedIn: 57, Constraint: unitOpen},
		{Key: "vllm_max_model_len", Type: TypeInt, Default: Int(4096), IntroducedIn: 57, Constraint: atLeastOne},
		{Key: "vllm_max_num_seqs", Type: TypeInt, Default: Int(256), IntroducedIn: 57, Constraint: atLeastOne},

		{Key: "elastic_search_service", Type: TypeBool, Default: Bool(false), IntroducedIn: 60},
		{Key: "elastic_search_url", Type: TypeURL, Default: String("http://localhost:9200"), IntroducedIn: 69},
		{Key: "elastic_search_api_key", Type: TypeString, Default: String(""), IntroducedIn: 70, Sensitive: true},

		{Key: "enable_motion_ctrl_service", Type: TypeBool, Default: Bool(false), IntroducedIn: 61},
		{Key: "motion_ctrl_base_url", Type: TypeURL, Default: String("http://localhost:7861"), IntroducedIn: 61},

		{Key: "enable_comfyui_service", Type: TypeBool, Default: Bool(false), IntroducedIn: 63},
		{Key: "comfyui_base_url", Type: TypeURL, Default: String("http://127.0.0.1:8188/"), IntroducedIn: 63},

		{Key: "enable_voice_service", Type: TypeBool, Default: Bool(false), IntroducedIn: 66},
		{Key: "xtts_use_deepspeed", Type: TypeBool, Default: Bool(false), IntroducedIn: 66},
		{Key: "xtts_base_url", Type: TypeURL, Default: String("http://localhost:8020"), IntroducedIn: 77},

		{Key: "whisper_activate", Type: TypeBool, Default: Bool(false), IntroducedIn: 67},
		{Key: "whisper_model", Type: TypeEnum, Default: String("base"), IntroducedIn: 67,
			Constraint: AllowedSet{"tiny", "base", "small", "medium", "large"}},
	}
}
