package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "acme labs", Normalize("  Acme—Labs!! "))
	assert.Equal(t, "", Normalize("***"))
	assert.Equal(t, "a1 b2", Normalize("A1_b2"))
}

func TestStripCompanySuffixes(t *testing.T) {
	assert.Equal(t, "xebia", StripCompanySuffixes("Xebia Group Inc"))
	assert.Equal(t, "acme", StripCompanySuffixes("Acme Co"))
	assert.Equal(t, "acme", StripCompanySuffixes("acme.com"))
	assert.Equal(t, "widget", StripCompanySuffixes("Widget LLC"))
}

func TestDomainRootFromEmail(t *testing.T) {
	assert.Equal(t, "acme", DomainRootFromEmail("careers@jobs.acme.com"))
	assert.Equal(t, "acme", DomainRootFromEmail("no-reply@acme.io"))
	assert.Equal(t, "", DomainRootFromEmail("not-an-address"))
	assert.Equal(t, "", DomainRootFromEmail("user@localhost"))
}

func TestCompanyFromDomainRootStripsConfirmedPrefix(t *testing.T) {
	// Prefix stripping needs context confirming the shorter brand.
	assert.Equal(t, "acme", CompanyFromDomainRoot("teamacme", "Welcome to Acme"))
	assert.Equal(t, "teamacme", CompanyFromDomainRoot("teamacme", "no brand here"))
	assert.Equal(t, "", CompanyFromDomainRoot("gmail", "anything"))
	assert.Equal(t, "", CompanyFromDomainRoot("greenhouse", "anything"))
}

func TestCompanyFromDisplayName(t *testing.T) {
	assert.Equal(t, "exampleco", CompanyFromDisplayName("ExampleCo Hiring Team via Greenhouse"))
	assert.Equal(t, "", CompanyFromDisplayName("No Reply"))
	assert.Equal(t, "widget", CompanyFromDisplayName("Widget Careers"))
}

func TestCompanyFromTextPicksMostFrequentRoot(t *testing.T) {
	text := "visit acme.com today; acme.com is hiring; see widget.io too"
	assert.Equal(t, "acme", CompanyFromText(text))
	assert.Equal(t, "", CompanyFromText("mail me at gmail.com"))
}

func TestCanonicalCompanyNameDomainWinsOnOverlap(t *testing.T) {
	got := CanonicalCompanyName("Acme Group", "jobs@acme.com", "Acme Jobs <jobs@acme.com>", "Your application", "")
	assert.Equal(t, "acme", got)
}

func TestCanonicalCompanyNameIntermediaryFallsBackToDisplayName(t *testing.T) {
	got := CanonicalCompanyName("", "no-reply@greenhouse.io",
		"Widget Hiring Team <no-reply@greenhouse.io>", "Interview with Widget", "")
	assert.Equal(t, "widget", got)
}

func TestCanonicalCompanyNameKeepsDistinctLabel(t *testing.T) {
	// An LLM label with no domain overlap stays as given.
	got := CanonicalCompanyName("Initech", "noreply@talent-mailer.net", "noreply@talent-mailer.net", "Update", "")
	assert.Equal(t, "initech", got)
}

func TestSimilarLabels(t *testing.T) {
	assert.True(t, SimilarLabels("xebia", "xebia group"))
	assert.True(t, SimilarLabels("acme labs", "acme"))
	assert.False(t, SimilarLabels("acme", "widget"))
	assert.False(t, SimilarLabels("", "acme"))
}

func TestBuildAliasMapMergesVariantsWithinRoot(t *testing.T) {
	obs := []LabelObservation{
		{DomainRoot: "xebia", Label: "xebia"},
		{DomainRoot: "xebia", Label: "xebia"},
		{DomainRoot: "xebia", Label: "xebia"},
		{DomainRoot: "xebia", Label: "xebia group"},
		{DomainRoot: "gmail", Label: "whatever"},
		{DomainRoot: "acme", Label: "acme"},
	}
	aliases := BuildAliasMap(obs)

	assert.Equal(t, "xebia", aliases[AliasKey{DomainRoot: "xebia", Label: "xebia group"}])
	_, ok := aliases[AliasKey{DomainRoot: "xebia", Label: "xebia"}]
	assert.False(t, ok, "canonical target must not alias to itself")
	// Single-label roots produce no entries.
	_, ok = aliases[AliasKey{DomainRoot: "acme", Label: "acme"}]
	assert.False(t, ok)
}

func TestBuildAliasMapNeverMergesDissimilarLabels(t *testing.T) {
	obs := []LabelObservation{
		{DomainRoot: "holding", Label: "acme"},
		{DomainRoot: "holding", Label: "acme"},
		{DomainRoot: "holding", Label: "widget"},
	}
	aliases := BuildAliasMap(obs)
	_, ok := aliases[AliasKey{DomainRoot: "holding", Label: "widget"}]
	assert.False(t, ok, "dissimilar labels on one root stay separate")
}

func TestResolve(t *testing.T) {
	aliases := map[AliasKey]string{
		{DomainRoot: "xebia", Label: "xebia group"}: "xebia",
	}
	assert.Equal(t, "xebia", Resolve(aliases, "xebia", "xebia group"))
	assert.Equal(t, "xebia", Resolve(aliases, "xebia", "xebia"))
	assert.Equal(t, "xebia group", Resolve(aliases, "other", "xebia group"))
}
