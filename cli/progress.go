package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"go.viam.com/camcalib/jobs"
)

type progressSpinner interface {
	Stop() error
	Success(...any)
	Fail(...any)
	UpdateText(string)
}

type progressSpinnerFactory func(string) (progressSpinner, error)

var defaultSpinnerFactory progressSpinnerFactory = func(text string) (progressSpinner, error) {
	spinner, err := pterm.DefaultSpinner.
		WithRemoveWhenDone(false).
		WithText(text).
		Start()
	if err != nil {
		return nil, err
	}
	return spinner, nil
}

// StepStatus represents the state of a progress step.
type StepStatus int

const (
	// StepPending indicates a step has not yet started.
	StepPending StepStatus = iota
	// StepRunning indicates a step is currently in progress.
	StepRunning
	// StepCompleted indicates a step finished successfully.
	StepCompleted
	// StepFailed indicates a step encountered an error.
	StepFailed
)

// Step is one line of command progress. Steps with an IndentLevel above zero get a spinner while running.
type Step struct {
	ID          string
	Message     string
	Status      StepStatus
	IndentLevel int
	startTime   time.Time
}

// ProgressManager shows a command's steps one after another.
type ProgressManager struct {
	out            io.Writer
	steps          map[string]*Step
	currentSpinner progressSpinner
	spinnerFactory progressSpinnerFactory
	mu             sync.Mutex
	disabled       bool
}

// ProgressManagerOption customizes a ProgressManager at creation time.
type ProgressManagerOption func(*ProgressManager)

// WithProgressOutput enables or disables terminal output for a ProgressManager.
func WithProgressOutput(enabled bool) ProgressManagerOption {
	return func(pm *ProgressManager) {
		pm.disabled = !enabled
	}
}

func withProgressSpinnerFactory(factory progressSpinnerFactory) ProgressManagerOption {
	return func(pm *ProgressManager) {
		pm.spinnerFactory = factory
	}
}

// NewProgressManager returns a manager for steps. Parent step headers are written to out.
func NewProgressManager(out io.Writer, steps []*Step, opts ...ProgressManagerOption) *ProgressManager {
	pterm.Success.Prefix = pterm.Prefix{Text: "✓", Style: pterm.NewStyle(pterm.FgGreen)}
	pterm.Error.Prefix = pterm.Prefix{Text: "✗", Style: pterm.NewStyle(pterm.FgRed)}
	pterm.DefaultSpinner.Style = pterm.NewStyle(pterm.FgCyan)

	pm := &ProgressManager{
		out:            out,
		steps:          make(map[string]*Step, len(steps)),
		spinnerFactory: defaultSpinnerFactory,
	}
	for _, step := range steps {
		pm.steps[step.ID] = step
	}
	for _, opt := range opts {
		opt(pm)
	}
	return pm
}

func indent(step *Step) string {
	if step.IndentLevel == 0 {
		return ""
	}
	return strings.Repeat("  ", step.IndentLevel) + "→ "
}

func (pm *ProgressManager) step(id string) (*Step, error) {
	step, ok := pm.steps[id]
	if !ok {
		return nil, fmt.Errorf("step %q not found", id)
	}
	return step, nil
}

// Start marks a step as running. Parent steps print a header; child steps start a spinner.
func (pm *ProgressManager) Start(stepID string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	step, err := pm.step(stepID)
	if err != nil {
		return err
	}
	step.Status = StepRunning
	step.startTime = time.Now()
	if pm.disabled {
		return nil
	}
	if step.IndentLevel == 0 {
		fmt.Fprintf(pm.out, " …  %s\n", step.Message)
		return nil
	}
	if pm.currentSpinner != nil {
		_ = pm.currentSpinner.Stop() //nolint:errcheck
	}
	spinner, err := pm.spinnerFactory(" " + indent(step) + step.Message)
	if err != nil {
		return fmt.Errorf("failed to start spinner: %w", err)
	}
	pm.currentSpinner = spinner
	return nil
}

// Complete marks a step as completed, reporting how long it ran.
func (pm *ProgressManager) Complete(stepID string) error {
	return pm.CompleteWithMessage(stepID, "")
}

// CompleteWithMessage marks a step as completed with a custom message. An empty message uses the step's.
func (pm *ProgressManager) CompleteWithMessage(stepID, message string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	step, err := pm.step(stepID)
	if err != nil {
		return err
	}
	step.Status = StepCompleted
	if message == "" {
		message = step.Message
	}
	if !step.startTime.IsZero() {
		message += fmt.Sprintf(" (%s)", time.Since(step.startTime).Round(time.Millisecond))
	}
	if pm.disabled {
		return nil
	}
	if pm.currentSpinner != nil {
		pm.currentSpinner.Success(" " + indent(step) + message)
		pm.currentSpinner = nil
		return nil
	}
	pterm.Success.Println(indent(step) + message)
	return nil
}

// Fail marks a step as failed with err.
func (pm *ProgressManager) Fail(stepID string, err error) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	step, lookupErr := pm.step(stepID)
	if lookupErr != nil {
		return lookupErr
	}
	step.Status = StepFailed
	if pm.disabled {
		return nil
	}
	message := fmt.Sprintf("%s: %v", step.Message, err)
	if pm.currentSpinner != nil {
		pm.currentSpinner.Fail(" " + indent(step) + message)
		pm.currentSpinner = nil
		return nil
	}
	pterm.Error.Println(indent(step) + message)
	return nil
}

// UpdateText replaces the text of the running spinner.
func (pm *ProgressManager) UpdateText(text string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.disabled || pm.currentSpinner == nil {
		return
	}
	pm.currentSpinner.UpdateText(text)
}

// Stop stops any active spinner.
func (pm *ProgressManager) Stop() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.currentSpinner != nil {
		_ = pm.currentSpinner.Stop() //nolint:errcheck
		pm.currentSpinner = nil
	}
}

// Status returns the status of a step, or StepPending if it is unknown.
func (pm *ProgressManager) Status(stepID string) StepStatus {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if step, ok := pm.steps[stepID]; ok {
		return step.Status
	}
	return StepPending
}

// followJob runs stepID for the lifetime of job, showing its progress events on the spinner.
func followJob[T any](pm *ProgressManager, stepID string, job *jobs.Job[T]) (T, error) {
	if err := pm.Start(stepID); err != nil {
		job.Cancel()
		var zero T
		return zero, err
	}
	for p := range job.Progress() {
		pm.UpdateText(fmt.Sprintf("  → %s [%d/%d]", p.Message, p.Current, p.Total))
	}
	res, err := job.Wait(context.Background())
	if err != nil {
		_ = pm.Fail(stepID, err) //nolint:errcheck
		return res, err
	}
	_ = pm.Complete(stepID) //nolint:errcheck
	return res, nil
}
