package upload

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/joescharf/tfupload/internal/models"
)

const (
	// ServiceName is the upload service named in task explanations.
	ServiceName = "TestFairy"
	// TaskPrefix marks every task contributed by the TestFairy Gradle plugin.
	TaskPrefix = "testfairy"
	// SymbolsTaskPrefix marks tasks that upload native debug symbols only.
	SymbolsTaskPrefix = "testfairyNdk"
)

var lineSplitRe = regexp.MustCompile(`\r?\n`)

// ParseTasks extracts TestFairy tasks from `gradle tasks` output, in the
// order Gradle printed them.
func ParseTasks(output string) []models.Task {
	tasks := []models.Task{}
	for _, line := range lineSplitRe.Split(output, -1) {
		if !strings.HasPrefix(line, TaskPrefix) {
			continue
		}
		name := strings.Fields(line)[0]
		tasks = append(tasks, Describe(name))
	}
	return tasks
}

// Describe builds the descriptor for a task name.
func Describe(name string) models.Task {
	t := models.Task{Name: name}
	if strings.HasPrefix(name, SymbolsTaskPrefix) {
		t.Family = models.FamilySymbols
		t.Suffix = strings.TrimPrefix(name, SymbolsTaskPrefix)
		t.Explanation = fmt.Sprintf("Send '%s' symbols to %s to symbolicate native crashes", t.Suffix, ServiceName)
	} else {
		t.Family = models.FamilyVariant
		t.Suffix = strings.TrimPrefix(name, TaskPrefix)
		t.Explanation = fmt.Sprintf("Build '%s' variant and send package to %s", t.Suffix, ServiceName)
	}
	return t
}

// Explain returns one display label per task, in the same order.
func Explain(tasks []models.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = Describe(t.Name).Explanation
	}
	return out
}
