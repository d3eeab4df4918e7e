package util

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	// MaxRegexLength is the maximum allowed regex pattern length
	MaxRegexLength = 500
	// MaxRegexNesting is the maximum group nesting depth accepted by ValidateComplexity
	MaxRegexNesting = 3
	// MaxRegexAlternations is the maximum number of alternations in one pattern
	MaxRegexAlternations = 50
)

var repetitionRe = regexp.MustCompile(`\{(\d+)(?:,\d*)?\}`)

var nestedQuantifierRes = []*regexp.Regexp{
	regexp.MustCompile(`\([^)]*\*\)\*`),        // (something*)*
	regexp.MustCompile(`\([^)]*\+\)\+`),        // (something+)+
	regexp.MustCompile(`\([^)]*\?\)\?`),        // (something?)?
	regexp.MustCompile(`\([^)]*\{[^}]*\}\)\{`), // (something{...}){...}
}

// RegexValidator validates and compiles operator-supplied regex patterns with safety checks.
// Route-class patterns come from configuration, so they are screened for constructs that
// make matching expensive before they ever see request traffic.
type RegexValidator struct {
	maxLength int
}

// NewRegexValidator creates a new RegexValidator with default settings
func NewRegexValidator() *RegexValidator {
	return &RegexValidator{
		maxLength: MaxRegexLength,
	}
}

// ValidatePattern validates a regex pattern for safety
func (rv *RegexValidator) ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("regex pattern cannot be empty")
	}

	if len(pattern) > rv.maxLength {
		return fmt.Errorf("regex pattern too long: %d characters (max %d)", len(pattern), rv.maxLength)
	}

	if err := rv.checkForReDoSPatterns(pattern); err != nil {
		return err
	}

	if alternationCount := strings.Count(pattern, "|"); alternationCount > MaxRegexAlternations {
		return fmt.Errorf("too many alternations: %d (max %d)", alternationCount, MaxRegexAlternations)
	}

	if err := rv.checkForExcessiveRepetition(pattern); err != nil {
		return err
	}

	if err := ValidateComplexity(pattern); err != nil {
		return err
	}

	if _, err := regexp.Compile(pattern); err != nil {
		return fmt.Errorf("invalid regex pattern: %w", err)
	}

	return nil
}

// checkForReDoSPatterns checks for dangerous nested quantifier sequences
func (rv *RegexValidator) checkForReDoSPatterns(pattern string) error {
	dangerousPatterns := []string{
		")+*", ")*+", ")+{", ")*{",
		"}+*", "}*+", "}+{", "}*{",
		"++", "**", "*+", "+*",
	}

	for _, dangerous := range dangerousPatterns {
		if strings.Contains(pattern, dangerous) {
			return fmt.Errorf("pattern contains nested quantifiers which may cause ReDoS: found '%s'", dangerous)
		}
	}

	return nil
}

// checkForExcessiveRepetition checks for repetition ranges of 1000 or more
func (rv *RegexValidator) checkForExcessiveRepetition(pattern string) error {
	for _, match := range repetitionRe.FindAllStringSubmatch(pattern, -1) {
		if len(match) < 2 {
			continue
		}
		count, err := strconv.Atoi(match[1])
		if err != nil || count >= 1000 {
			return fmt.Errorf("excessive repetition: %s (max 999)", match[0])
		}
	}

	return nil
}

// Compile compiles a regex pattern after validation
func (rv *RegexValidator) Compile(pattern string) (*regexp.Regexp, error) {
	if err := rv.ValidatePattern(pattern); err != nil {
		return nil, err
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to compile regex pattern: %w", err)
	}

	return re, nil
}

// ValidateComplexity rejects nested quantifiers and deep group nesting
func ValidateComplexity(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("regex pattern cannot be empty")
	}

	for _, re := range nestedQuantifierRes {
		if re.MatchString(pattern) {
			return fmt.Errorf("pattern contains nested quantifiers which may cause ReDoS: %s", pattern)
		}
	}

	nestingDepth := 0
	for _, char := range pattern {
		switch char {
		case '(':
			nestingDepth++
			if nestingDepth > MaxRegexNesting {
				return fmt.Errorf("pattern has excessive nesting depth: %d (max %d)", nestingDepth, MaxRegexNesting)
			}
		case ')':
			nestingDepth--
			if nestingDepth < 0 {
				return fmt.Errorf("pattern has unmatched closing parenthesis")
			}
		}
	}

	if nestingDepth != 0 {
		return fmt.Errorf("pattern has unmatched parentheses")
	}

	return nil
}

// SafeCompile is a convenience function that compiles a regex pattern with validation
func SafeCompile(pattern string) (*regexp.Regexp, error) {
	return NewRegexValidator().Compile(pattern)
}

// SafeCompileAll compiles every pattern, reporting the first one that fails
func SafeCompileAll(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	validator := NewRegexValidator()
	for i, pattern := range patterns {
		re, err := validator.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("pattern %d (%q): %w", i, pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}
