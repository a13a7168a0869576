// Package identity canonicalizes company labels extracted from job-search
// email. The same employer shows up as "Xebia", "Xebia Group" and
// "Xebia Group Inc" depending on which template sent the mail; this package
// collapses those variants without ever merging two unrelated companies.
package identity

import (
	"regexp"
	"sort"
	"strings"
)

// PersonalRoots are free-mail second-level labels. A personal sender is the
// candidate, never the employer.
var PersonalRoots = map[string]bool{
	"gmail":      true,
	"outlook":    true,
	"hotmail":    true,
	"yahoo":      true,
	"icloud":     true,
	"protonmail": true,
}

// IntermediaryRoots are ATS, assessment-vendor and scheduling-tool
// second-level labels. These senders stand between the candidate and the
// employer: the hiring company is named in the display name or body, not in
// the domain.
var IntermediaryRoots = map[string]bool{
	"ashbyhq":           true,
	"codility":          true,
	"codesignal":        true,
	"goodtime":          true,
	"greenhouse":        true,
	"hackerrank":        true,
	"hackerrankforwork": true,
	"hirevue":           true,
	"icims":             true,
	"jobvite":           true,
	"lever":             true,
	"myworkday":         true,
	"recruitee":         true,
	"smartrecruiters":   true,
	"successfactors":    true,
	"teamtailor":        true,
	"workday":           true,
}

// genericSenderTokens are display-name words that never identify a company
// ("ExampleCo Hiring Team via Greenhouse" -> "exampleco").
var genericSenderTokens = map[string]bool{
	"at":            true,
	"career":        true,
	"careers":       true,
	"email":         true,
	"hiring":        true,
	"hr":            true,
	"job":           true,
	"jobs":          true,
	"no":            true,
	"notifications": true,
	"noreply":       true,
	"recruiting":    true,
	"recruitment":   true,
	"reply":         true,
	"support":       true,
	"talent":        true,
	"team":          true,
	"the":           true,
	"via":           true,
}

// domainPrefixCandidates are marketing prefixes commonly glued onto a brand
// in sender domains (teamexample.com, getexample.io).
var domainPrefixCandidates = []string{"team", "get", "my"}

var legalSuffixes = []string{" inc", " llc", " ltd", " bv", " gmbh", " corp", " company", " group", " co"}

var (
	nonAlnumRe   = regexp.MustCompile(`[^a-z0-9]+`)
	multiSpaceRe = regexp.MustCompile(`\s+`)
	textDomainRe = regexp.MustCompile(`\b([a-z0-9-]+)\.(?:com|co|io|ai|net|org|eu|nl)\b`)
)

// Normalize lowercases and strips everything but [a-z0-9], collapsing runs
// of separators to single spaces.
func Normalize(value string) string {
	out := nonAlnumRe.ReplaceAllString(strings.ToLower(value), " ")
	return strings.TrimSpace(multiSpaceRe.ReplaceAllString(out, " "))
}

// Tokenize returns the set of normalized tokens in text.
func Tokenize(text string) map[string]bool {
	tokens := map[string]bool{}
	for _, t := range strings.Fields(Normalize(text)) {
		tokens[t] = true
	}
	return tokens
}

func sharedToken(a, b string) bool {
	bt := Tokenize(b)
	for t := range Tokenize(a) {
		if bt[t] {
			return true
		}
	}
	return false
}

// DomainRootFromEmail returns the second-level label of the address domain
// ("careers@jobs.example.com" -> "example"), or "" for bare or local names.
func DomainRootFromEmail(addr string) string {
	if !strings.Contains(addr, "@") {
		return ""
	}
	domain := strings.ToLower(strings.TrimSpace(addr[strings.Index(addr, "@")+1:]))
	parts := strings.Split(domain, ".")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2]
}

// StripCompanySuffixes removes legal and TLD-like suffix tokens iteratively:
// "Xebia Group Inc" -> "xebia".
func StripCompanySuffixes(value string) string {
	c := Normalize(value)
	changed := true
	for changed && c != "" {
		changed = false
		for _, suffix := range legalSuffixes {
			if strings.HasSuffix(c, suffix) {
				c = strings.TrimSpace(c[:len(c)-len(suffix)])
				changed = true
				break
			}
		}
	}
	if strings.HasSuffix(c, " com") {
		c = strings.TrimSpace(c[:len(c)-4])
	}
	if strings.HasSuffix(c, " io") {
		c = strings.TrimSpace(c[:len(c)-3])
	}
	if strings.HasSuffix(c, " co uk") {
		c = strings.TrimSpace(c[:len(c)-6])
	}
	return c
}

// CompanyFromDomainRoot maps a domain root to a company label, preferring a
// shorter prefix-stripped variant when the context text confirms it.
// Personal and intermediary roots never name a company.
func CompanyFromDomainRoot(root, contextText string) string {
	rootNorm := Normalize(root)
	if rootNorm == "" {
		return ""
	}
	if PersonalRoots[rootNorm] || IntermediaryRoots[rootNorm] {
		return ""
	}

	contextNorm := Normalize(contextText)
	candidates := []string{}
	for _, prefix := range domainPrefixCandidates {
		if !strings.HasPrefix(rootNorm, prefix) {
			continue
		}
		stripped := strings.TrimSpace(rootNorm[len(prefix):])
		if len(stripped) < 3 {
			continue
		}
		if contextNorm != "" && wordRe(stripped).MatchString(contextNorm) {
			candidates = append(candidates, stripped)
		}
	}
	candidates = append(candidates, rootNorm)

	best := candidates[0]
	for _, c := range candidates[1:] {
		if len(c) < len(best) {
			best = c
		}
	}
	return best
}

func wordRe(word string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(word) + `\b`)
}

// CompanyFromSenderDomain resolves the sender address to a company label via
// its domain root.
func CompanyFromSenderDomain(senderAddr, contextText string) string {
	return CompanyFromDomainRoot(DomainRootFromEmail(senderAddr), contextText)
}

// CompanyFromDisplayName derives a company label from a sender display name
// after dropping generic recruiting tokens.
func CompanyFromDisplayName(display string) string {
	norm := Normalize(display)
	if norm == "" {
		return ""
	}
	kept := []string{}
	for _, t := range strings.Fields(norm) {
		if !genericSenderTokens[t] {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		return ""
	}
	return StripCompanySuffixes(strings.Join(kept, " "))
}

// CompanyFromText scans free text for domain-shaped substrings and returns
// the most frequent non-personal, non-intermediary root.
func CompanyFromText(text string) string {
	counts := map[string]int{}
	order := []string{}
	for _, m := range textDomainRe.FindAllStringSubmatch(strings.ToLower(text), -1) {
		hint := CompanyFromDomainRoot(m[1], text)
		if hint == "" {
			continue
		}
		if counts[hint] == 0 {
			order = append(order, hint)
		}
		counts[hint]++
	}
	best := ""
	bestCount := 0
	for _, hint := range order {
		if counts[hint] > bestCount {
			best = hint
			bestCount = counts[hint]
		}
	}
	return best
}

// CanonicalCompanyName resolves one message's company label. The raw label
// (from a rule or an LLM) is suffix-stripped, then cross-checked against the
// sender-domain hint and any domain mentioned in the context text: when a
// concrete domain overlaps the label, the domain wins. Intermediary senders
// fall back to their display name; the last resort is the domain root itself.
func CanonicalCompanyName(rawCompany, senderAddr, senderRaw, subject, body string) string {
	c := StripCompanySuffixes(rawCompany)
	root := DomainRootFromEmail(senderAddr)
	contextText := strings.Join([]string{senderRaw, subject, body, c}, " ")
	senderDomainHint := CompanyFromSenderDomain(senderAddr, contextText)
	textHint := CompanyFromText(contextText)

	if c != "" && !PersonalRoots[c] && !IntermediaryRoots[c] {
		if senderDomainHint != "" &&
			(strings.Contains(c, senderDomainHint) || strings.Contains(senderDomainHint, c) || sharedToken(c, senderDomainHint)) {
			return senderDomainHint
		}
		if textHint != "" &&
			(strings.Contains(c, textHint) || strings.Contains(textHint, c) || sharedToken(c, textHint)) {
			return textHint
		}
		return c
	}

	if textHint != "" {
		return textHint
	}
	if senderDomainHint != "" {
		return senderDomainHint
	}
	if IntermediaryRoots[root] {
		if hint := CompanyFromDisplayName(displayNamePart(senderRaw)); hint != "" && !IntermediaryRoots[hint] {
			return hint
		}
	}
	if c == "" && root != "" {
		c = Normalize(root)
	}
	return c
}

func displayNamePart(raw string) string {
	if idx := strings.Index(raw, "<"); idx > 0 {
		return strings.Trim(strings.TrimSpace(raw[:idx]), `"'`)
	}
	if strings.Contains(raw, "@") {
		return ""
	}
	return raw
}

// SimilarLabels reports whether two company labels plausibly name the same
// employer: substring either way, or any shared token. Callers must restrict
// comparisons to labels seen on one sender-domain root; token overlap alone
// is far too loose across domains.
func SimilarLabels(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}
	return sharedToken(a, b)
}

// LabelObservation is one job-related row's company label keyed by the
// sender-domain root it was seen on.
type LabelObservation struct {
	DomainRoot string
	Label      string
}

// AliasKey addresses one alias-map entry.
type AliasKey struct {
	DomainRoot string
	Label      string
}

// BuildAliasMap merges label variants that coexist on the same domain root.
// For each label the score is (sum of counts over similar labels, own count,
// -len); the maximum-score label becomes the canonical target and every
// similar label aliases to it. Running the pass twice yields the same map.
func BuildAliasMap(observations []LabelObservation) map[AliasKey]string {
	domainCounts := map[string]map[string]int{}
	for _, obs := range observations {
		root := Normalize(obs.DomainRoot)
		if root == "" || PersonalRoots[root] || IntermediaryRoots[root] || obs.Label == "" {
			continue
		}
		if domainCounts[root] == nil {
			domainCounts[root] = map[string]int{}
		}
		domainCounts[root][obs.Label]++
	}

	aliases := map[AliasKey]string{}
	for root, counts := range domainCounts {
		if len(counts) < 2 {
			continue
		}
		labels := make([]string, 0, len(counts))
		for lbl := range counts {
			labels = append(labels, lbl)
		}
		sort.Strings(labels)

		type score struct {
			similarSum int
			own        int
			negLen     int
		}
		scores := map[string]score{}
		for _, lbl := range labels {
			sum := 0
			for _, other := range labels {
				if SimilarLabels(lbl, other) {
					sum += counts[other]
				}
			}
			scores[lbl] = score{similarSum: sum, own: counts[lbl], negLen: -len(lbl)}
		}

		target := labels[0]
		for _, lbl := range labels[1:] {
			a, b := scores[lbl], scores[target]
			if a.similarSum > b.similarSum ||
				(a.similarSum == b.similarSum && a.own > b.own) ||
				(a.similarSum == b.similarSum && a.own == b.own && a.negLen > b.negLen) {
				target = lbl
			}
		}
		for _, lbl := range labels {
			if lbl == target {
				continue
			}
			if SimilarLabels(lbl, target) {
				aliases[AliasKey{DomainRoot: root, Label: lbl}] = target
			}
		}
	}
	return aliases
}

// Resolve returns the canonical target for a label seen on a domain root,
// or the label itself when no alias applies.
func Resolve(aliases map[AliasKey]string, domainRoot, label string) string {
	if domainRoot == "" || label == "" {
		return label
	}
	if target, ok := aliases[AliasKey{DomainRoot: domainRoot, Label: label}]; ok {
		return target
	}
	return label
}
