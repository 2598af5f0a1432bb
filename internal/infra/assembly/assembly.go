// Package assembly builds chore artifacts: reassembled paper manifests,
// solution manifests and coverage reports, written through the artifact
// store. Handlers implement the job runner's handler contract.
package assembly

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/markflow/markflow/internal/domain/papers"
	"github.com/markflow/markflow/internal/infra/artifacts"
	"github.com/markflow/markflow/internal/infra/jobrunner"
	"github.com/markflow/markflow/pkg/common/logger"
)

// jobPayload is the wire shape chore enqueuers submit.
type jobPayload struct {
	PaperNumber int `json:"paper_number"`
}

// Assembler produces chore artifacts from the current page state.
type Assembler struct {
	blueprint    *papers.Blueprint
	paperNumbers []int
	pageRepo     papers.PageRepository
	store        *artifacts.FileStore
	logger       *logger.Logger
}

// NewAssembler wires an Assembler to the page repository and artifact store.
func NewAssembler(
	blueprint *papers.Blueprint,
	paperNumbers []int,
	pageRepo papers.PageRepository,
	store *artifacts.FileStore,
	logger *logger.Logger,
) *Assembler {
	return &Assembler{
		blueprint:    blueprint,
		paperNumbers: paperNumbers,
		pageRepo:     pageRepo,
		store:        store,
		logger:       logger.With("component", "assembler"),
	}
}

// Reassemble writes the ordered page manifest for one paper.
func (a *Assembler) Reassemble(ctx context.Context, job jobrunner.Job) (string, error) {
	var payload jobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return "", fmt.Errorf("bad reassembly payload: %w", err)
	}

	snapshots, err := a.pageRepo.SnapshotPapers(ctx, []int{payload.PaperNumber})
	if err != nil {
		return "", fmt.Errorf("failed to snapshot paper %d: %w", payload.PaperNumber, err)
	}
	if len(snapshots) == 0 {
		return "", fmt.Errorf("%w: paper %d", papers.ErrPaperNotFound, payload.PaperNumber)
	}
	snap := snapshots[0]

	for _, fp := range snap.Fixed {
		if !fp.HasImage {
			return "", fmt.Errorf("paper %d page %d has no image", payload.PaperNumber, fp.PageNumber)
		}
	}

	manifest, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("failed to encode manifest: %w", err)
	}
	name := fmt.Sprintf("reassembly_%04d.json", payload.PaperNumber)
	a.logger.Debug(ctx, "Writing reassembly manifest", "paper", payload.PaperNumber)
	return a.store.Write(ctx, name, manifest)
}

// Solutions writes the per-question solution manifest for the version a
// paper sat.
func (a *Assembler) Solutions(ctx context.Context, job jobrunner.Job) (string, error) {
	var payload jobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return "", fmt.Errorf("bad solution payload: %w", err)
	}

	snapshots, err := a.pageRepo.SnapshotPapers(ctx, []int{payload.PaperNumber})
	if err != nil {
		return "", fmt.Errorf("failed to snapshot paper %d: %w", payload.PaperNumber, err)
	}
	if len(snapshots) == 0 {
		return "", fmt.Errorf("%w: paper %d", papers.ErrPaperNotFound, payload.PaperNumber)
	}

	type questionSolution struct {
		QuestionIndex int   `json:"question_index"`
		Version       int   `json:"version"`
		Pages         []int `json:"pages"`
	}
	version := 1
	if len(snapshots[0].Fixed) > 0 {
		version = snapshots[0].Fixed[0].Version
	}
	solutions := make([]questionSolution, 0, a.blueprint.NumQuestions())
	for q := 1; q <= a.blueprint.NumQuestions(); q++ {
		solutions = append(solutions, questionSolution{
			QuestionIndex: q,
			Version:       version,
			Pages:         a.blueprint.PagesOfQuestion(q),
		})
	}

	manifest, err := json.Marshal(solutions)
	if err != nil {
		return "", fmt.Errorf("failed to encode solutions: %w", err)
	}
	name := fmt.Sprintf("solutions_%04d.json", payload.PaperNumber)
	a.logger.Debug(ctx, "Writing solution manifest", "paper", payload.PaperNumber)
	return a.store.Write(ctx, name, manifest)
}

// Report writes a scan coverage summary across every paper in the set.
func (a *Assembler) Report(ctx context.Context, job jobrunner.Job) (string, error) {
	snapshots, err := a.pageRepo.SnapshotPapers(ctx, a.paperNumbers)
	if err != nil {
		return "", fmt.Errorf("failed to snapshot papers: %w", err)
	}

	type paperCoverage struct {
		PaperNumber int `json:"paper_number"`
		FixedPages  int `json:"fixed_pages"`
		ImagedPages int `json:"imaged_pages"`
		MobilePages int `json:"mobile_pages"`
	}
	coverage := make([]paperCoverage, 0, len(snapshots))
	for _, snap := range snapshots {
		row := paperCoverage{
			PaperNumber: snap.PaperNumber,
			FixedPages:  len(snap.Fixed),
			MobilePages: len(snap.Mobile),
		}
		for _, fp := range snap.Fixed {
			if fp.HasImage {
				row.ImagedPages++
			}
		}
		coverage = append(coverage, row)
	}

	report, err := json.Marshal(coverage)
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}
	a.logger.Debug(ctx, "Writing coverage report", "papers", len(coverage))
	return a.store.Write(ctx, fmt.Sprintf("report_%s.json", job.ID), report)
}
