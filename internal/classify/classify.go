// Package classify infers severity, status, region and affected services from
// free-text incident titles and descriptions.
package classify

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strings"

	"healthwatch/pkg/models"
)

// DefaultServiceTag is used when no known service name matches.
const DefaultServiceTag = "Microsoft Services"

// DefaultDescriptionLimit caps impact text length.
const DefaultDescriptionLimit = 500

var (
	highSeverityWords   = []string{"outage", "down", "critical", "unavailable"}
	mediumSeverityWords = []string{"degraded", "degradation", "slow", "intermittent", "partial"}

	regions = []string{
		"US East", "US West", "East US", "West US",
		"North Europe", "West Europe", "Europe",
		"Southeast Asia", "Asia Pacific",
		"Australia", "UK", "Canada",
	}

	knownServices = []string{
		"Azure Storage", "Azure Virtual Machines", "Azure SQL", "Azure Active Directory",
		"Azure App Service", "Azure Functions", "Azure Kubernetes",
		"Microsoft 365", "Exchange Online", "SharePoint", "Teams", "OneDrive",
	}

	bracketPrefix = regexp.MustCompile(`^\[.*?\]\s*`)
	htmlTag       = regexp.MustCompile(`<[^>]*>`)
	whitespace    = regexp.MustCompile(`\s+`)
)

// Severity scans text for outage or degradation keywords. High wins over medium.
func Severity(text string) models.Severity {
	lower := strings.ToLower(text)
	if containsAny(lower, highSeverityWords) {
		return models.SeverityHigh
	}
	if containsAny(lower, mediumSeverityWords) {
		return models.SeverityMedium
	}
	return models.SeverityLow
}

// Status derives the lifecycle state from upstream wording.
func Status(text string) models.Status {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "resolved"), strings.Contains(lower, "restored"):
		return models.StatusResolved
	case strings.Contains(lower, "monitoring"):
		return models.StatusMonitoring
	case strings.Contains(lower, "identified"):
		return models.StatusIdentified
	default:
		return models.StatusInvestigating
	}
}

// IsResolvedText reports whether upstream text announces a resolution.
func IsResolvedText(text string) bool {
	return Status(text) == models.StatusResolved
}

// Region returns the first known region mentioned in text, or Global.
func Region(text string) string {
	lower := strings.ToLower(text)
	for _, region := range regions {
		if strings.Contains(lower, strings.ToLower(region)) {
			return region
		}
	}
	return models.DefaultRegion
}

// AffectedServices tags text with known service names, deduplicated and in
// dictionary order. When nothing matches it returns fallback, or
// DefaultServiceTag if fallback is empty.
func AffectedServices(text, fallback string) []string {
	lower := strings.ToLower(text)
	seen := make(map[string]struct{}, len(knownServices))
	var found []string
	for _, svc := range knownServices {
		if _, ok := seen[svc]; ok {
			continue
		}
		if strings.Contains(lower, strings.ToLower(svc)) {
			seen[svc] = struct{}{}
			found = append(found, svc)
		}
	}
	if len(found) > 0 {
		return found
	}
	if strings.TrimSpace(fallback) == "" {
		fallback = DefaultServiceTag
	}
	return []string{fallback}
}

// CleanTitle removes a leading [tag] and collapses whitespace.
func CleanTitle(title string) string {
	title = bracketPrefix.ReplaceAllString(strings.TrimSpace(title), "")
	return strings.TrimSpace(whitespace.ReplaceAllString(title, " "))
}

// CleanDescription strips markup, collapses whitespace and truncates to max runes.
func CleanDescription(description string, max int) string {
	if max <= 0 {
		max = DefaultDescriptionLimit
	}
	out := htmlTag.ReplaceAllString(description, "")
	out = strings.TrimSpace(whitespace.ReplaceAllString(out, " "))
	runes := []rune(out)
	if len(runes) > max {
		out = string(runes[:max])
	}
	return out
}

// StableID derives a deterministic identifier from the given parts.
// The same inputs always produce the same ID across cycles.
func StableID(prefix string, parts ...string) string {
	h := md5.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte("|"))
	}
	sum := hex.EncodeToString(h.Sum(nil))[:12]
	if prefix == "" {
		return sum
	}
	return prefix + "-" + sum
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
