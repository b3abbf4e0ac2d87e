package models

// TaskFamily distinguishes the two kinds of TestFairy Gradle tasks.
type TaskFamily string

const (
	// FamilyVariant tasks build a variant and upload the package.
	FamilyVariant TaskFamily = "variant"
	// FamilySymbols tasks upload native debug symbols only.
	FamilySymbols TaskFamily = "symbols"
)

// Task is a TestFairy task discovered from `gradle tasks` output.
type Task struct {
	Name        string
	Family      TaskFamily
	Suffix      string // Name without its family prefix, e.g. "Release"
	Explanation string
}
