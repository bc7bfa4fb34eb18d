package kafka

import (
	"strings"
	"unicode"
)

// TopicName returns the name CreateTopic gives a requested topic.
func TopicName(requested string) string { return sanitizeTopic(requested) }

// sanitizeTopic lower cases a topic name and replaces characters that are
// unsafe for some Kafka providers (e.g. MSK) with '-'.
func sanitizeTopic(topic string) string {
	var b strings.Builder
	b.Grow(len(topic))
	for _, r := range strings.TrimSpace(topic) {
		switch {
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteByte('-')
		}
	}

	return b.String()
}

func sanitizeTopics(topics []string) []string {
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		if s := sanitizeTopic(t); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// sanitizeGroupID keeps only Kafka-safe characters and compresses whitespace
func sanitizeGroupID(s string) string {
	b := strings.Builder{}
	b.Grow(len(s))
	lastDash := false
	for _, r := range s {
		if r == '/' || r == ':' || r == '.' || r == '-' || r == '_' || r == '@' || r == '+' {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		// normalize others to single dash
		if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	res := b.String()
	res = strings.Trim(res, "-")
	if res == "" {
		return "consumer"
	}
	if len(res) > 255 {
		return res[:255]
	}
	return res
}
