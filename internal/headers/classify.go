package headers

import (
	"fmt"
	"regexp"
	"strings"

	"faultline/internal/models"
)

// DefaultSystemTypePatterns match scheduler and infrastructure message types.
var DefaultSystemTypePatterns = []string{
	`^NServiceBus\.Scheduling\.Messages\.ScheduledTask$`,
	`^NServiceBus\.Timeout\.`,
	`^NServiceBus\.Unicast\.Transport\.CompletionMessage$`,
	`^NServiceBus\.Saga\.TimeoutMessage`,
}

// Classifier decides whether a message is a control, system or user message.
type Classifier struct {
	systemTypes []*regexp.Regexp
}

// NewClassifier compiles the given system type patterns. An empty list falls
// back to DefaultSystemTypePatterns.
func NewClassifier(patterns []string) (*Classifier, error) {
	if len(patterns) == 0 {
		patterns = DefaultSystemTypePatterns
	}
	c := &Classifier{systemTypes: make([]*regexp.Regexp, 0, len(patterns))}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("system type pattern %q: %w", p, err)
		}
		c.systemTypes = append(c.systemTypes, re)
	}
	return c, nil
}

// DefaultClassifier uses DefaultSystemTypePatterns.
func DefaultClassifier() *Classifier {
	c, err := NewClassifier(nil)
	if err != nil {
		panic(err)
	}
	return c
}

// Classify resolves the message classification:
//  1. a control message header marks a control message,
//  2. the first enclosed message type (text before the first comma) names
//     the type, flagged as system when it matches a system pattern,
//  3. Unknown.
func (c *Classifier) Classify(h models.Headers) models.MessageClassification {
	if h.Has(ControlMessage) {
		return models.ControlClassification
	}

	enclosed, ok := nonEmpty(h, EnclosedMessageTypes)
	if !ok {
		return models.UnknownClassification
	}

	typeName, _, _ := strings.Cut(enclosed, ",")
	typeName = strings.TrimSpace(typeName)
	if typeName == "" {
		return models.UnknownClassification
	}

	return models.MessageClassification{
		TypeName:        typeName,
		IsSystemMessage: c.isSystemType(typeName),
	}
}

func (c *Classifier) isSystemType(typeName string) bool {
	for _, re := range c.systemTypes {
		if re.MatchString(typeName) {
			return true
		}
	}
	return false
}
