package usecase

import (
	"context"
	"log/slog"
	"sync"

	"pixelchat/internal/domain"
)

// generatedCaption is the caption attached to the last generated image.
const generatedCaption = "Generated image"

// UploadRejection records a file skipped during RegisterUpload.
type UploadRejection struct {
	Name string
	Err  error
}

// PoolSnapshot is a read-only view of the candidate pool for display.
type PoolSnapshot struct {
	Main          *domain.ImageFile      `json:"main,omitempty"`
	References    []domain.ImageFile     `json:"references"`
	Persistent    []domain.ImageFile     `json:"persistent"`
	LastGenerated *domain.GeneratedImage `json:"last_generated,omitempty"`
}

// Total returns the number of distinct locally held files plus the last
// generated image.
func (s PoolSnapshot) Total() int {
	n := len(s.References) + len(s.Persistent)
	if s.Main != nil {
		n++
	}
	if s.LastGenerated != nil {
		n++
	}
	return n
}

// ImageCandidatePool owns every locally known image and resolves exactly one
// of them per request. Fields are never mutated from outside; callers go
// through the operations below.
type ImageCandidatePool struct {
	mu            sync.Mutex
	main          *domain.ImageFile
	references    []domain.ImageFile
	persistent    []domain.ImageFile
	lastGenerated *domain.GeneratedImage

	release func(locator string)
	logger  *slog.Logger
}

// NewImageCandidatePool creates an empty pool. release is invoked with every
// blob locator that is no longer held by any slot; it may be nil.
func NewImageCandidatePool(release func(locator string), logger *slog.Logger) *ImageCandidatePool {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageCandidatePool{release: release, logger: logger}
}

// ResolveMainCandidate returns the image used for analysis and fallback:
// main image, then first persistent reference, then first session reference.
func (p *ImageCandidatePool) ResolveMainCandidate() *domain.ImageFile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resolveMainLocked()
}

func (p *ImageCandidatePool) resolveMainLocked() *domain.ImageFile {
	switch {
	case p.main != nil:
		return cloneFile(p.main)
	case len(p.persistent) > 0:
		return cloneFile(&p.persistent[0])
	case len(p.references) > 0:
		return cloneFile(&p.references[0])
	default:
		return nil
	}
}

// ResolveEditTargetImage returns the image an edit should operate on: the last
// generated output (materialized through fetcher), then the main image, then
// ResolveMainCandidate. A failed fetch degrades to the next level.
func (p *ImageCandidatePool) ResolveEditTargetImage(ctx context.Context, fetcher domain.ImageFetcher) *domain.ImageFile {
	p.mu.Lock()
	last := p.lastGenerated
	if last != nil {
		cp := *last
		last = &cp
	}
	p.mu.Unlock()

	// The fetch is a suspension point, so it runs without the lock held.
	if last != nil && fetcher != nil {
		file, err := fetcher.Fetch(ctx, last.Locator)
		if err == nil && file != nil {
			if file.Name == "" {
				file.Name = "generated-image.png"
			}
			return file
		}
		p.logger.Warn("last generated image unavailable, falling back",
			"locator", truncateLocator(last.Locator), "error", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.main != nil {
		return cloneFile(p.main)
	}
	return p.resolveMainLocked()
}

// RegisterUpload slots a batch of files. With DesignationPrimary the first
// valid file becomes the main image and the rest replace the session
// references; with DesignationReference all valid files are appended to the
// session references. Every valid
// file is also appended to the persistent set unless an entry with the same
// name and size exists. Invalid files are skipped and reported.
func (p *ImageCandidatePool) RegisterUpload(files []domain.ImageFile, designation domain.UploadDesignation) []UploadRejection {
	var (
		valid    []domain.ImageFile
		rejected []UploadRejection
	)
	for _, f := range files {
		if f.Size == 0 && len(f.Data) > 0 {
			f.Size = int64(len(f.Data))
		}
		if err := domain.ValidateImageFile(f); err != nil {
			rejected = append(rejected, UploadRejection{Name: f.Name, Err: err})
			continue
		}
		valid = append(valid, f)
	}
	if len(valid) == 0 {
		return rejected
	}

	p.mu.Lock()
	var released []string
	refs := valid
	if designation == domain.DesignationPrimary {
		if p.main != nil {
			released = append(released, p.main.Locator)
		}
		for _, f := range p.references {
			released = append(released, f.Locator)
		}
		first := valid[0]
		p.main = &first
		p.references = append([]domain.ImageFile(nil), valid[1:]...)
	} else {
		p.references = append(p.references, refs...)
	}

	for _, f := range valid {
		if !containsFile(p.persistent, f) {
			p.persistent = append(p.persistent, f)
		}
	}
	released = p.unheldLocked(released)
	p.mu.Unlock()

	p.releaseAll(released)
	return rejected
}

// ClearTransient empties the main image, session references and the last
// generated image. Persistent references are untouched.
func (p *ImageCandidatePool) ClearTransient() {
	p.mu.Lock()
	released := p.transientLocatorsLocked()
	p.main = nil
	p.references = nil
	p.lastGenerated = nil
	released = p.unheldLocked(released)
	p.mu.Unlock()

	p.releaseAll(released)
}

// ClearPersistent empties the persistent reference set only.
func (p *ImageCandidatePool) ClearPersistent() {
	p.mu.Lock()
	var released []string
	for _, f := range p.persistent {
		released = append(released, f.Locator)
	}
	p.persistent = nil
	released = p.unheldLocked(released)
	p.mu.Unlock()

	p.releaseAll(released)
}

// RecordGenerationSuccess unconditionally replaces the last generated image.
func (p *ImageCandidatePool) RecordGenerationSuccess(locator string) {
	p.mu.Lock()
	var released []string
	if p.lastGenerated != nil && p.lastGenerated.Locator != locator {
		released = append(released, p.lastGenerated.Locator)
	}
	p.lastGenerated = &domain.GeneratedImage{Locator: locator, Caption: generatedCaption}
	released = p.unheldLocked(released)
	p.mu.Unlock()

	p.releaseAll(released)
}

// clearAfterRequest empties main and session references while leaving the
// last generated slot at keep. It is the post-request reset used by the
// conversation mutator: on success keep is the fresh result, on failure it is
// the value observed before the request.
func (p *ImageCandidatePool) clearAfterRequest(keep *domain.GeneratedImage) {
	p.mu.Lock()
	released := p.transientLocatorsLocked()
	p.main = nil
	p.references = nil
	p.lastGenerated = nil
	if keep != nil {
		cp := *keep
		p.lastGenerated = &cp
	}
	released = p.unheldLocked(released)
	p.mu.Unlock()

	p.releaseAll(released)
}

// LastGenerated returns a copy of the last generated image, or nil.
func (p *ImageCandidatePool) LastGenerated() *domain.GeneratedImage {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastGenerated == nil {
		return nil
	}
	cp := *p.lastGenerated
	return &cp
}

// AllReferenceImages returns persistent then session references, with
// duplicates (same name and size) removed.
func (p *ImageCandidatePool) AllReferenceImages() []domain.ImageFile {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.ImageFile, 0, len(p.persistent)+len(p.references))
	for _, f := range p.persistent {
		if !containsFile(out, f) {
			out = append(out, f)
		}
	}
	for _, f := range p.references {
		if !containsFile(out, f) {
			out = append(out, f)
		}
	}
	return out
}

// Snapshot returns a copy of the pool state for display.
func (p *ImageCandidatePool) Snapshot() PoolSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap := PoolSnapshot{
		Main:       cloneFile(p.main),
		References: append([]domain.ImageFile(nil), p.references...),
		Persistent: append([]domain.ImageFile(nil), p.persistent...),
	}
	if p.lastGenerated != nil {
		cp := *p.lastGenerated
		snap.LastGenerated = &cp
	}
	return snap
}

func (p *ImageCandidatePool) transientLocatorsLocked() []string {
	var out []string
	if p.main != nil {
		out = append(out, p.main.Locator)
	}
	for _, f := range p.references {
		out = append(out, f.Locator)
	}
	if p.lastGenerated != nil {
		out = append(out, p.lastGenerated.Locator)
	}
	return out
}

// unheldLocked filters candidates down to locators no slot still references.
func (p *ImageCandidatePool) unheldLocked(candidates []string) []string {
	if len(candidates) == 0 {
		return nil
	}
	held := make(map[string]bool)
	if p.main != nil {
		held[p.main.Locator] = true
	}
	for _, f := range p.references {
		held[f.Locator] = true
	}
	for _, f := range p.persistent {
		held[f.Locator] = true
	}
	if p.lastGenerated != nil {
		held[p.lastGenerated.Locator] = true
	}

	seen := make(map[string]bool)
	var out []string
	for _, loc := range candidates {
		if loc == "" || held[loc] || seen[loc] {
			continue
		}
		seen[loc] = true
		out = append(out, loc)
	}
	return out
}

func (p *ImageCandidatePool) releaseAll(locators []string) {
	if p.release == nil {
		return
	}
	for _, loc := range locators {
		p.release(loc)
	}
}

func containsFile(files []domain.ImageFile, f domain.ImageFile) bool {
	for _, existing := range files {
		if existing.SameAs(f) {
			return true
		}
	}
	return false
}

func cloneFile(f *domain.ImageFile) *domain.ImageFile {
	if f == nil {
		return nil
	}
	cp := *f
	return &cp
}

// truncateLocator keeps data URLs out of logs.
func truncateLocator(loc string) string {
	if len(loc) <= 80 {
		return loc
	}
	return loc[:77] + "..."
}
