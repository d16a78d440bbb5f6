package pipeline

import (
	"strings"

	"github.com/satyasetu/voice-gateway/internal/domain"
)

// unsafePatterns trip the safety check. Matching is case-insensitive
// substring search over the raw query.
var unsafePatterns = []string{
	"ignore previous instructions",
	"jailbreak",
	"pretend you are",
	"financial advice",
	"legal advice",
}

// CheckSafety screens a query for prompt injection and out-of-bounds
// requests. It is pure and deterministic.
func CheckSafety(query string) domain.SafetyVerdict {
	lower := strings.ToLower(query)
	var reasons []string
	for _, p := range unsafePatterns {
		if strings.Contains(lower, p) {
			reasons = append(reasons, "unsafe_pattern:"+p)
		}
	}
	return domain.SafetyVerdict{Allowed: len(reasons) == 0, Reasons: reasons}
}

var (
	scamKeywords   = []string{"scam", "fake", "fraud", "verify", "trust"}
	schemeKeywords = []string{"scheme", "yojana", "benefit", "subsidy", "pm kisan", "kisan"}
)

// ClassifyIntent maps a query to an intent. Deterministic for the same
// inputs. Hyphens are folded to spaces first so "PM-KISAN" matches the
// scheme vocabulary.
func ClassifyIntent(query string, offlineMode bool) domain.Intent {
	if offlineMode {
		return domain.IntentOfflineFallback
	}
	lower := strings.ReplaceAll(strings.ToLower(query), "-", " ")

	for _, w := range scamKeywords {
		if strings.Contains(lower, w) {
			return domain.IntentScamVerify
		}
	}
	for _, w := range schemeKeywords {
		if strings.Contains(lower, w) {
			return domain.IntentSchemeLookup
		}
	}
	if strings.Contains(lower, "offline") {
		return domain.IntentOfflineFallback
	}
	return domain.IntentGeneralQuestion
}

// hedgePhrases cap confidence when the model waffles.
var hedgePhrases = []string{"i don't know", "i'm not sure"}

// advicePhrases force a refusal: the assistant must not hand out
// financial or legal advice.
var advicePhrases = []string{"invest", "lawsuit", "legal action"}

const (
	adviceRefusalEN = "I cannot provide financial or legal advice. Please consult a professional."
	adviceRefusalHI = "मैं वित्तीय या कानूनी सलाह नहीं दे सकता। कृपया किसी विशेषज्ञ से संपर्क करें।"
)

// postProcessAnswer applies output guardrails and returns the adjusted
// answer plus any risk flags it raised.
func postProcessAnswer(answer domain.GeneratedAnswer, intent domain.Intent, language string) (domain.GeneratedAnswer, []string) {
	var flags []string
	lower := strings.ToLower(answer.Text)

	for _, h := range hedgePhrases {
		if strings.Contains(lower, h) {
			if answer.Confidence > 0.5 {
				answer.Confidence = 0.5
			}
			break
		}
	}

	for _, a := range advicePhrases {
		if strings.Contains(lower, a) {
			if language == "hi" {
				answer.Text = adviceRefusalHI
			} else {
				answer.Text = adviceRefusalEN
			}
			flags = append(flags, "attempted_advice")
			break
		}
	}

	if intent == domain.IntentScamVerify && strings.Contains(strings.ToLower(answer.Text), "scam") {
		flags = append(flags, "scam_suspected")
	}

	return answer, flags
}

const (
	blockedResponseEN = "I cannot process this request. Please ask about government schemes or scam verification."
	blockedResponseHI = "मैं इस अनुरोध को संसाधित नहीं कर सकता। कृपया सरकारी योजनाओं या धोखाधड़ी सत्यापन के बारे में पूछें।"

	fallbackResponseEN = "I'm having trouble right now. Please try again in a moment."
	fallbackResponseHI = "मुझे अभी कुछ समस्या हो रही है। कृपया थोड़ी देर में फिर से प्रयास करें।"
)

func blockedResponse(language string) string {
	if language == "hi" {
		return blockedResponseHI
	}
	return blockedResponseEN
}

func fallbackResponse(language string) string {
	if language == "hi" {
		return fallbackResponseHI
	}
	return fallbackResponseEN
}

// SupportedLanguage reports whether the gateway can answer in the given
// language tag.
func SupportedLanguage(language string) bool {
	return language == "en" || language == "hi"
}
