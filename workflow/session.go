package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"mediagen_back/generations"
	"mediagen_back/inference"
)

// State names the phases of a generation session.
type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StateInProgress State = "in-progress"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateSaving     State = "saving"
)

var (
	// ErrBusy is returned when a run or save is already in flight.
	ErrBusy = errors.New("workflow: session is busy")
	// ErrNoResult is returned when save or download is attempted without a
	// completed generation.
	ErrNoResult = errors.New("workflow: no completed result")
	// ErrClosed is returned when a session has been closed.
	ErrClosed = errors.New("workflow: session closed")
)

// MissingInputError reports which inputs a run still needs. No remote call is
// made while it applies.
type MissingInputError struct {
	Fields []string
}

func (e *MissingInputError) Error() string {
	return "workflow: missing inputs: " + strings.Join(e.Fields, ", ")
}

// AssetStore is the slice of the media store a session needs.
type AssetStore interface {
	UploadBytes(ctx context.Context, objectName string, data []byte, contentType string) (string, error)
	UploadFile(ctx context.Context, fileHeader *multipart.FileHeader, objectName string) (string, error)
	Remove(ctx context.Context, assetURL string) error
}

// JobRunner submits generation jobs and waits for their results.
type JobRunner interface {
	Submit(ctx context.Context, model string, payload map[string]any, required ...string) (*inference.Job, error)
	Await(ctx context.Context, job *inference.Job, onProgress func(int)) (inference.Result, error)
}

// Keyworder derives search keywords from a prompt, best effort.
type Keyworder interface {
	Keywords(ctx context.Context, prompt string) []string
}

// RecordStore persists confirmed generations.
type RecordStore interface {
	Insert(ctx context.Context, record *generations.Record) error
}

// ephemeralResult is a finished generation that has not been saved yet. Its
// output URL points at the inference host and expires; saving copies the
// bytes into the media store.
type ephemeralResult struct {
	JobID     string
	OutputURL string
	CreatedAt time.Time
}

// Session drives one generation workflow for a single media type. All state
// transitions happen under the session mutex; the long network phases of a
// run or save release it so status reads stay responsive.
type Session struct {
	ID        string
	MediaType *MediaType

	assets   AssetStore
	runner   JobRunner
	keywords Keyworder
	records  RecordStore
	fetch    *http.Client

	mu         sync.Mutex
	state      State
	percent    int
	lastError  string
	inputs     Inputs
	ephemeral  *ephemeralResult
	tempAssets []string
	closed     bool
}

// NewSession creates an idle session for the given media type.
func NewSession(id string, mediaType *MediaType, assets AssetStore, runner JobRunner, keywords Keyworder, records RecordStore, fetch *http.Client) *Session {
	if fetch == nil {
		fetch = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Session{
		ID:        id,
		MediaType: mediaType,
		assets:    assets,
		runner:    runner,
		keywords:  keywords,
		records:   records,
		fetch:     fetch,
		state:     StateIdle,
	}
}

// Status is a point-in-time view of a session.
type Status struct {
	SessionID string `json:"session_id"`
	Type      string `json:"type"`
	State     State  `json:"state"`
	Percent   int    `json:"percent"`
	Error     string `json:"error,omitempty"`
	Inputs    Inputs `json:"inputs"`
	JobID     string `json:"job_id,omitempty"`
	OutputURL string `json:"output_url,omitempty"`
}

// Snapshot returns the current session status.
func (s *Session) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		SessionID: s.ID,
		Type:      s.MediaType.Name,
		State:     s.state,
		Percent:   s.percent,
		Error:     s.lastError,
		Inputs:    s.inputs,
	}
	if s.ephemeral != nil {
		status.JobID = s.ephemeral.JobID
		status.OutputURL = s.ephemeral.OutputURL
	}
	return status
}

func (s *Session) busyLocked() bool {
	switch s.state {
	case StateSubmitting, StateInProgress, StateSaving:
		return true
	default:
		return false
	}
}

// InputPatch updates a subset of the session inputs. Nil fields are left
// untouched.
type InputPatch struct {
	ProjectName *string `json:"project_name"`
	Model       *string `json:"model"`
	Prompt      *string `json:"prompt"`
}

// SetInputs applies a patch to the session inputs.
func (s *Session) SetInputs(patch InputPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.busyLocked() {
		return ErrBusy
	}
	if patch.ProjectName != nil {
		s.inputs.ProjectName = strings.TrimSpace(*patch.ProjectName)
	}
	if patch.Model != nil {
		s.inputs.Model = strings.TrimSpace(*patch.Model)
	}
	if patch.Prompt != nil {
		s.inputs.Prompt = strings.TrimSpace(*patch.Prompt)
	}
	return nil
}

// AttachAsset uploads an input file to an interim object and records its URL
// in the matching input field. On upload failure the field stays unset.
func (s *Session) AttachAsset(ctx context.Context, fieldName string, fileHeader *multipart.FileHeader) (string, error) {
	field, ok := s.MediaType.field(fieldName)
	if !ok {
		return "", fmt.Errorf("workflow: media type %q has no asset field %q", s.MediaType.Name, fieldName)
	}
	if fileHeader == nil {
		return "", errors.New("workflow: file is required")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	if s.busyLocked() {
		s.mu.Unlock()
		return "", ErrBusy
	}
	s.mu.Unlock()

	objectName := field.tempObjectName(fileHeader.Filename, time.Now())
	url, err := s.assets.UploadFile(ctx, fileHeader, objectName)
	if err != nil {
		return "", fmt.Errorf("workflow: upload %s: %w", fieldName, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		// The session was torn down while the upload was in flight, so the
		// object is already orphaned.
		if err := s.assets.Remove(ctx, url); err != nil {
			log.Printf("workflow: remove interim asset %s: %v", url, err)
		}
		return "", ErrClosed
	}
	field.assign(&s.inputs, url)
	s.tempAssets = append(s.tempAssets, url)
	s.mu.Unlock()

	return url, nil
}

// CheckRunnable reports whether a run could start right now, without changing
// any state. Callers that commit to a streaming response use it to reject bad
// requests with a proper status code first; Generate re-checks under the same
// lock.
func (s *Session) CheckRunnable() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.busyLocked() {
		return ErrBusy
	}
	if missing := s.MediaType.missingInputs(s.inputs); len(missing) > 0 {
		return &MissingInputError{Fields: missing}
	}
	return nil
}

// Generate runs one generation attempt with the current inputs. It blocks
// until the job finishes, reporting progress through onProgress. Attempts are
// independent: calling Generate again after completion or failure starts a
// fresh run with the same inputs.
func (s *Session) Generate(ctx context.Context, onProgress func(int)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.busyLocked() {
		s.mu.Unlock()
		return ErrBusy
	}
	if missing := s.MediaType.missingInputs(s.inputs); len(missing) > 0 {
		s.mu.Unlock()
		return &MissingInputError{Fields: missing}
	}
	inputs := s.inputs
	s.state = StateSubmitting
	s.percent = 0
	s.lastError = ""
	s.mu.Unlock()

	job, err := s.runner.Submit(ctx, inputs.Model, s.MediaType.payload(inputs), s.MediaType.requiredKeys...)
	if err != nil {
		s.fail(fmt.Errorf("workflow: submit: %w", err))
		return fmt.Errorf("workflow: submit: %w", err)
	}

	s.mu.Lock()
	s.state = StateInProgress
	s.mu.Unlock()

	result, err := s.runner.Await(ctx, job, func(percent int) {
		s.mu.Lock()
		s.percent = percent
		s.mu.Unlock()
		if onProgress != nil {
			onProgress(percent)
		}
	})
	if err != nil {
		s.fail(fmt.Errorf("workflow: run: %w", err))
		return fmt.Errorf("workflow: run: %w", err)
	}

	outputURL := s.MediaType.outputURL(result)
	if outputURL == "" {
		err := fmt.Errorf("workflow: job %s finished without a %s output", job.RequestID, s.MediaType.ResultKind)
		s.fail(err)
		return err
	}

	s.mu.Lock()
	s.state = StateCompleted
	s.percent = 100
	s.ephemeral = &ephemeralResult{
		JobID:     job.RequestID,
		OutputURL: outputURL,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.state = StateFailed
	s.lastError = err.Error()
	s.mu.Unlock()
}

// Save copies the ephemeral output into the media store, writes the record
// and resets the session to idle. Any failure leaves the completed result and
// inputs in place so the caller can retry.
func (s *Session) Save(ctx context.Context) (*generations.Record, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.busyLocked() {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	if s.state != StateCompleted || s.ephemeral == nil {
		s.mu.Unlock()
		return nil, ErrNoResult
	}
	inputs := s.inputs
	ephemeral := *s.ephemeral
	s.state = StateSaving
	s.mu.Unlock()

	record, err := s.save(ctx, inputs, ephemeral)
	if err != nil {
		s.mu.Lock()
		s.state = StateCompleted
		s.lastError = err.Error()
		s.mu.Unlock()
		return nil, err
	}

	s.mu.Lock()
	s.state = StateIdle
	s.percent = 0
	s.lastError = ""
	s.inputs = Inputs{}
	s.ephemeral = nil
	// The record now references the interim input URLs, so they must not be
	// cleaned up when the session closes.
	s.tempAssets = nil
	s.mu.Unlock()
	return record, nil
}

func (s *Session) save(ctx context.Context, inputs Inputs, ephemeral ephemeralResult) (*generations.Record, error) {
	data, contentType, err := s.fetchOutput(ctx, ephemeral.OutputURL)
	if err != nil {
		return nil, fmt.Errorf("workflow: fetch output: %w", err)
	}

	objectName := s.MediaType.objectName(ephemeral.JobID, time.Now())
	storedURL, err := s.assets.UploadBytes(ctx, objectName, data, contentType)
	if err != nil {
		return nil, fmt.Errorf("workflow: store output: %w", err)
	}

	record := &generations.Record{
		JobID:             ephemeral.JobID,
		Type:              s.MediaType.Name,
		ProjectName:       optional(inputs.ProjectName),
		Model:             inputs.Model,
		Prompt:            optional(inputs.Prompt),
		ImageURL:          optional(inputs.ImageURL),
		SourceVideoURL:    optional(inputs.SourceVideoURL),
		SourceAudioURL:    optional(inputs.SourceAudioURL),
		ReferenceAudioURL: optional(inputs.ReferenceAudioURL),
		OutputURL:         storedURL,
	}
	if s.MediaType.Keywords {
		record.SetKeywords(s.extractKeywords(ctx, inputs.Prompt))
	}

	if err := s.records.Insert(ctx, record); err != nil {
		return nil, fmt.Errorf("workflow: insert record: %w", err)
	}
	return record, nil
}

func (s *Session) extractKeywords(ctx context.Context, prompt string) []string {
	if s.keywords == nil {
		return []string{}
	}
	keywords := s.keywords.Keywords(ctx, prompt)
	if keywords == nil {
		keywords = []string{}
	}
	return keywords
}

func (s *Session) fetchOutput(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := s.fetch.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// Download streams the ephemeral output to w with a type-appropriate
// filename. It is valid from completed and does not change session state.
func (s *Session) Download(ctx context.Context, w http.ResponseWriter) error {
	s.mu.Lock()
	if s.state != StateCompleted || s.ephemeral == nil {
		s.mu.Unlock()
		return ErrNoResult
	}
	ephemeral := *s.ephemeral
	s.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ephemeral.OutputURL, nil)
	if err != nil {
		return fmt.Errorf("workflow: download: %w", err)
	}
	resp, err := s.fetch.Do(req)
	if err != nil {
		return fmt.Errorf("workflow: download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("workflow: download: unexpected status %s", resp.Status)
	}

	filename := fmt.Sprintf("%s-%s%s", s.MediaType.Name, ephemeral.JobID, s.MediaType.Extension)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if contentType := resp.Header.Get("Content-Type"); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("workflow: download: %w", err)
	}
	return nil
}

// Close marks the session unusable and removes interim input uploads that no
// saved record references. An in-flight run is not interrupted.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	orphaned := s.tempAssets
	s.tempAssets = nil
	s.mu.Unlock()

	for _, url := range orphaned {
		if err := s.assets.Remove(ctx, url); err != nil {
			log.Printf("workflow: remove interim asset %s: %v", url, err)
		}
	}
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
