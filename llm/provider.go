package llm

import (
	"fmt"
	"strings"

	"github.com/akirco/llmhub/errors"
	"github.com/akirco/llmhub/httpclient"
)

// ProviderKind is the closed set of supported provider APIs.
type ProviderKind string

const (
	ProviderDeepseek    ProviderKind = "deepseek"
	ProviderOpenAI      ProviderKind = "openai"
	ProviderAnthropic   ProviderKind = "anthropic"
	ProviderOllama      ProviderKind = "ollama"
	ProviderSiliconflow ProviderKind = "siliconflow"
	ProviderZhipuAI     ProviderKind = "zhipuai"
	ProviderAlibailian  ProviderKind = "alibailian"
	ProviderXAI         ProviderKind = "xai"
	ProviderVolcengine  ProviderKind = "volcengine"
	ProviderTencent     ProviderKind = "tencent"
	ProviderQianfan     ProviderKind = "qianfan"
	ProviderGoogle      ProviderKind = "google"
	ProviderGeneric     ProviderKind = "generic"
)

// ProviderKinds lists every supported kind.
func ProviderKinds() []ProviderKind {
	return []ProviderKind{
		ProviderDeepseek, ProviderOpenAI, ProviderAnthropic, ProviderOllama,
		ProviderSiliconflow, ProviderZhipuAI, ProviderAlibailian, ProviderXAI,
		ProviderVolcengine, ProviderTencent, ProviderQianfan, ProviderGoogle,
		ProviderGeneric,
	}
}

// ParseProviderKind resolves a case-insensitive provider name.
func ParseProviderKind(s string) (ProviderKind, error) {
	k := ProviderKind(strings.ToLower(strings.TrimSpace(s)))
	if k.Valid() {
		return k, nil
	}
	return "", errors.InvalidConfig(fmt.Sprintf("unknown provider %q", s))
}

// Valid reports whether k is one of the supported kinds.
func (k ProviderKind) Valid() bool {
	_, ok := providerTable[k]
	return ok
}

func (k ProviderKind) String() string { return string(k) }

// DefaultBaseURL is the public API root of the provider.
func (k ProviderKind) DefaultBaseURL() string { return providerTable[k].baseURL }

// DefaultModel is the model used when neither config nor request names one.
func (k ProviderKind) DefaultModel() string { return providerTable[k].model }

// EnvPrefix is the prefix of the provider's environment overrides, e.g.
// DEEPSEEK for DEEPSEEK_API_KEY.
func (k ProviderKind) EnvPrefix() string { return strings.ToUpper(string(k)) }

// ChatPath is the endpoint the provider streams chat completions from.
func (k ProviderKind) ChatPath() string {
	switch k {
	case ProviderAnthropic:
		return "/messages"
	case ProviderOllama:
		return "/api/chat"
	case ProviderGeneric:
		return "/chat"
	default:
		return "/chat/completions"
	}
}

// Auth returns how apiKey is presented to the provider.
func (k ProviderKind) Auth(apiKey string) httpclient.Auth {
	if k == ProviderAnthropic {
		return httpclient.HeaderAuth("x-api-key", apiKey)
	}
	return httpclient.BearerAuth(apiKey)
}

// capabilities are the optional request features a provider accepts.
type capabilities struct {
	tools     bool
	reasoning bool
	jsonMode  bool
}

type providerInfo struct {
	baseURL string
	model   string
	caps    capabilities
}

var providerTable = map[ProviderKind]providerInfo{
	ProviderDeepseek:    {"https://api.deepseek.com", "deepseek-chat", capabilities{true, true, true}},
	ProviderOpenAI:      {"https://api.openai.com/v1/", "gpt-4o-mini", capabilities{true, true, true}},
	ProviderAnthropic:   {"https://api.anthropic.com/v1/", "claude-3-7-sonnet-20250219", capabilities{true, true, false}},
	ProviderOllama:      {"http://localhost:11434", "llama3", capabilities{true, true, true}},
	ProviderSiliconflow: {"https://api.siliconflow.cn/v1/", "deepseek-ai/DeepSeek-V3", capabilities{true, true, true}},
	ProviderZhipuAI:     {"https://open.bigmodel.cn/api/paas/v4/", "glm-4-flash", capabilities{true, true, true}},
	ProviderAlibailian:  {"https://dashscope.aliyuncs.com/compatible-mode/v1/", "qwen-plus", capabilities{true, true, true}},
	ProviderXAI:         {"https://api.x.ai/v1/", "grok-2-latest", capabilities{true, true, true}},
	ProviderVolcengine:  {"https://ark.cn-beijing.volces.com/api/v3/", "doubao-1-5-pro-32k-250115", capabilities{true, true, true}},
	ProviderTencent:     {"https://api.lkeap.cloud.tencent.com/v1/", "deepseek-v3", capabilities{false, true, false}},
	ProviderQianfan:     {"https://qianfan.baidubce.com/v2/", "deepseek-v3", capabilities{true, true, true}},
	ProviderGoogle:      {"https://generativelanguage.googleapis.com/v1beta/openai/", "gemini-2.0-flash", capabilities{true, true, true}},
	ProviderGeneric:     {"", "", capabilities{}},
}

// checkCapabilities rejects params that ask for a feature kind lacks.
func checkCapabilities(kind ProviderKind, params ModelParams) error {
	caps := providerTable[kind].caps
	switch {
	case len(params.Tools) > 0 && !caps.tools:
		return errors.UnsupportedFeature(string(kind), "tool calls")
	case params.Reasoning && !caps.reasoning:
		return errors.UnsupportedFeature(string(kind), "reasoning")
	case params.ResponseFormat == ResponseFormatJSON && !caps.jsonMode:
		return errors.UnsupportedFeature(string(kind), "json response format")
	}
	return nil
}
