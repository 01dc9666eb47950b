// Package pipeline drives a photo analysis request through its staged,
// confidence-gated flow: screen, extract, match, search, analyze. Each
// stage gates the next; cost is accounted for every attempt made along the
// way, including failed ones.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/cache"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/cascade"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/equipment"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/model"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/providers"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/search"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/store"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/validation"
)

// Screen categories the screen stage providers are prompted to emit.
const (
	categoryEquipment        = "equipment"
	categoryEquipmentNoPlate = "equipment_no_plate"
	categoryNotEquipment     = "not_equipment"
)

// Request is one inbound photo plus its context. ID may be pre-assigned
// by callers that need a pollable run id before processing starts; when
// empty a fresh one is minted.
type Request struct {
	ID        string
	Image     []byte
	MediaType string
	Query     string
	SessionID string
}

// Orchestrator owns the staged flow and its collaborators.
type Orchestrator struct {
	store   store.Store
	cache   *cache.AnalysisCache
	matcher *equipment.Matcher
	gate    *validation.Gate
	search  *search.Cascade

	screen  *cascade.Executor[providers.ImageInput, model.ScreenPayload]
	extract *cascade.Executor[providers.ImageInput, model.ExtractPayload]
	analyze *cascade.Executor[providers.AnalyzeInput, model.AnalyzePayload]

	overallTimeout time.Duration
	now            func() time.Time
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Store   store.Store
	Cache   *cache.AnalysisCache
	Matcher *equipment.Matcher
	Gate    *validation.Gate
	Search  *search.Cascade

	Screen  *cascade.Executor[providers.ImageInput, model.ScreenPayload]
	Extract *cascade.Executor[providers.ImageInput, model.ExtractPayload]
	Analyze *cascade.Executor[providers.AnalyzeInput, model.AnalyzePayload]

	OverallTimeout time.Duration
}

// New creates an Orchestrator.
func New(d Deps) *Orchestrator {
	timeout := d.OverallTimeout
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &Orchestrator{
		store:          d.Store,
		cache:          d.Cache,
		matcher:        d.Matcher,
		gate:           d.Gate,
		search:         d.Search,
		screen:         d.Screen,
		extract:        d.Extract,
		analyze:        d.Analyze,
		overallTimeout: timeout,
		now:            time.Now,
	}
}

// Process runs one request through the full flow and persists the run
// record as it advances. It returns a result for every non-infrastructure
// outcome: rejections, unmatched equipment, and failed searches all come
// back as results with an explanation, not as errors.
func (o *Orchestrator) Process(ctx context.Context, req Request) (*model.PipelineResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.overallTimeout)
	defer cancel()

	started := o.now()
	hash := model.HashImage(req.Image)

	reqID := req.ID
	if reqID == "" {
		reqID = uuid.New().String()
	}
	run, err := o.store.CreateRun(ctx, model.PipelineRequest{
		ID:        reqID,
		ImageHash: hash,
		Query:     req.Query,
		SessionID: req.SessionID,
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}

	result := &model.PipelineResult{
		RequestID: run.Request.ID,
		ImageHash: hash,
	}

	log := zap.L().With(
		zap.String("run_id", run.ID),
		zap.String("image_hash", hash[:12]),
	)

	status, err := o.process(ctx, req, run, result, log)
	result.LatencyMS = o.now().Sub(started).Milliseconds()

	if err != nil {
		log.Error("pipeline run failed", zap.Error(err))
		if uerr := o.store.UpdateRunResult(ctx, run.ID, model.RunStatusFailed, result); uerr != nil {
			log.Error("run record update failed", zap.Error(uerr))
		}
		return nil, err
	}

	if uerr := o.store.UpdateRunResult(ctx, run.ID, status, result); uerr != nil {
		log.Error("run record update failed", zap.Error(uerr))
	}
	log.Info("pipeline run finished",
		zap.String("status", string(status)),
		zap.Bool("from_cache", result.FromCache),
		zap.Float64("total_cost_usd", result.TotalCostUSD),
		zap.Int64("latency_ms", result.LatencyMS))
	return result, nil
}

// process mutates result in place and returns the terminal run status.
func (o *Orchestrator) process(ctx context.Context, req Request, run *model.Run, result *model.PipelineResult, log *zap.Logger) (model.RunStatus, error) {
	// Cache first: identical photo bytes mean the vision stages would
	// reproduce their outputs exactly.
	entry, err := o.cache.Lookup(ctx, result.ImageHash)
	if err != nil {
		log.Warn("cache lookup failed, treating as miss", zap.Error(err))
		entry = nil
	}

	if entry != nil {
		return o.processCached(ctx, req, entry, result, log)
	}

	// Stage 1: screen.
	screenOut := o.screen.Run(ctx, providers.ImageInput{
		Image: req.Image, MediaType: req.MediaType, Query: req.Query,
	})
	result.TotalCostUSD += screenOut.TotalCostUSD
	if screenOut.Winner == nil {
		result.Note = "None of my vision providers could look at that photo just now. " +
			"This is on my side, not your photo; please resend it in a few minutes."
		return model.RunStatusFailed, nil
	}
	result.Screen = stageResult(model.StageScreen, screenOut.Winner, screenOut.Degraded)
	result.Screen.Screen = &screenOut.Winner.Output

	if screenOut.Winner.Output.Category == categoryNotEquipment {
		result.Rejected = true
		result.RejectionMessage = rejectionMessage(screenOut.Winner.Output.Reason)
		// Rejections are cheap to recompute and often operator error;
		// caching them would pin a bad photo to a refusal for a month.
		return model.RunStatusRejected, nil
	}
	if screenOut.Degraded {
		// A screen that never cleared the confidence bar gates everything
		// downstream: extraction off an uncertain photo produces garbage
		// identities in the registry.
		result.Rejected = true
		result.RejectionMessage = lowConfidenceRejection(screenOut.Winner.Output)
		return model.RunStatusRejected, nil
	}
	o.markStatus(ctx, run.ID, model.RunStatusScreened, log)

	// Stage 2: extract.
	extractOut := o.extract.Run(ctx, providers.ImageInput{
		Image: req.Image, MediaType: req.MediaType, Query: req.Query,
	})
	result.TotalCostUSD += extractOut.TotalCostUSD
	if extractOut.Winner == nil {
		result.Note = "I could tell that's industrial equipment, but none of my vision " +
			"providers could read the nameplate just now. Please resend the photo in a few minutes."
		return model.RunStatusFailed, nil
	}
	result.Extract = stageResult(model.StageExtract, extractOut.Winner, extractOut.Degraded)
	result.Extract.Extract = &extractOut.Winner.Output
	o.markStatus(ctx, run.ID, model.RunStatusExtracted, log)

	// Stage 3: match against the equipment registry.
	resolution, err := o.matcher.Resolve(ctx, result.Extract.Extract)
	if err != nil {
		return model.RunStatusFailed, eris.Wrap(err, "pipeline: match equipment")
	}
	if resolution.Record == nil {
		result.Note = unmatchedNote(result.Screen.Screen, result.Extract.Extract)
		return model.RunStatusUnmatched, nil
	}
	result.Equipment = resolution.Record
	result.EquipmentCreated = resolution.Created
	o.markStatus(ctx, run.ID, model.RunStatusMatched, log)

	// Stages 4-5: documentation search, then analysis.
	status, err := o.searchAndAnalyze(ctx, req, result, log)
	if err != nil || status == model.RunStatusFailed {
		return status, err
	}
	if status == model.RunStatusAnalyzed {
		o.writeCache(ctx, req, result, log)
		return model.RunStatusDone, nil
	}
	// Skipped analysis is a terminal outcome of its own and replays from
	// cache like any other; a pending validation session is the exception,
	// since a resubmit must re-present the question.
	if status == model.RunStatusSkippedAnalysis && result.Validation == nil {
		o.writeCache(ctx, req, result, log)
	}
	return status, nil
}

// processCached serves the vision stages from a cache entry. The cached
// answer is replayed only for queries matching what the answer was built
// for; a new question still runs search and analysis.
func (o *Orchestrator) processCached(ctx context.Context, req Request, entry *model.CacheEntry, result *model.PipelineResult, log *zap.Logger) (model.RunStatus, error) {
	log.Info("serving vision stages from cache", zap.Int64("hit_count", entry.HitCount))
	result.FromCache = true

	an := entry.Analysis
	result.Screen = fromCacheStage(an.Screen)
	result.Extract = fromCacheStage(an.Extract)

	if an.Equipment != nil {
		result.Equipment = an.Equipment
		if err := o.store.IncrementEquipmentActivity(ctx, an.Equipment.ID); err != nil {
			log.Warn("equipment activity bump failed", zap.Error(err))
		}
	}

	if req.Query == "" && (an.Answer != "" || an.Note != "") {
		result.Analyze = fromCacheStage(an.Analyze)
		result.Answer = an.Answer
		result.Note = an.Note
		if an.Answer == "" {
			// The original run skipped analysis; the replay does too.
			return model.RunStatusSkippedAnalysis, nil
		}
		return model.RunStatusDone, nil
	}

	if result.Equipment == nil {
		result.Note = unmatchedNote(screenPayload(result.Screen), extractPayload(result.Extract))
		return model.RunStatusUnmatched, nil
	}

	status, err := o.searchAndAnalyze(ctx, req, result, log)
	if status == model.RunStatusAnalyzed {
		status = model.RunStatusDone
	}
	return status, err
}

// searchAndAnalyze runs the documentation search and, when the search
// verdict allows, the analysis stage. result.Equipment must be set.
func (o *Orchestrator) searchAndAnalyze(ctx context.Context, req Request, result *model.PipelineResult, log *zap.Logger) (model.RunStatus, error) {
	q := search.Query{
		Manufacturer: result.Equipment.Manufacturer,
		Model:        result.Equipment.Model,
		Serial:       result.Equipment.Serial,
		Question:     req.Query,
	}
	signature := validation.Signature(q.Manufacturer, q.Model, q.Question)

	searchRes, err := o.search.Execute(ctx, q, signature)
	if err != nil {
		return model.RunStatusFailed, eris.Wrap(err, "pipeline: search")
	}
	result.Search = searchRes.Report
	result.TotalCostUSD += searchRes.Report.TotalCostUSD

	switch searchRes.Verdict {
	case search.VerdictAmbiguous:
		sess, err := o.gate.Present(ctx, req.SessionID, signature, *searchRes.Candidate)
		if err != nil {
			return model.RunStatusFailed, eris.Wrap(err, "pipeline: present validation")
		}
		result.Validation = sess
		result.Note = "I found a possible match but I'm not certain it's the right document. " +
			"Please confirm or reject it; once confirmed I can answer from it directly."
		return model.RunStatusSkippedAnalysis, nil

	case search.VerdictNone:
		// Analysis needs something to stand on: a servable document or a
		// unit with prior activity. A first sighting with neither gets its
		// nameplate reading and an explanation, not a guess.
		if result.EquipmentCreated {
			result.Note = "I couldn't find official documentation for this unit and it's the " +
				"first one I've seen, so I'm skipping the analysis rather than guessing. The " +
				"nameplate details above are recorded; a clearer model number or a link to the " +
				"manual would let me go further."
			return model.RunStatusSkippedAnalysis, nil
		}
		result.Note = "I couldn't find official documentation for this unit, so the answer " +
			"below is from general knowledge of this equipment class. Verify against the " +
			"manual before acting on specifics."
	}

	p := personaFor(result.Equipment.Manufacturer)
	in := providers.AnalyzeInput{
		System:       p.System,
		Manufacturer: result.Equipment.Manufacturer,
		Model:        result.Equipment.Model,
		Question:     req.Query,
	}
	if in.Question == "" {
		in.Question = "Give an overview of this unit: what it is, common failure modes, and key maintenance points."
	}
	if searchRes.Candidate != nil {
		in.DocumentURL = searchRes.Candidate.URL
		in.DocumentText = searchRes.Candidate.Answer
	}

	analyzeOut := o.analyze.Run(ctx, in)
	result.TotalCostUSD += analyzeOut.TotalCostUSD
	if analyzeOut.Winner == nil {
		// The identification is still good; only the answer is missing.
		result.Note = "I identified the unit, but the analysis couldn't be completed just " +
			"now. The equipment details above still stand; ask again in a few minutes for " +
			"the full answer."
		return model.RunStatusFailed, nil
	}
	result.Analyze = stageResult(model.StageAnalyze, analyzeOut.Winner, analyzeOut.Degraded)
	result.Analyze.Analyze = &analyzeOut.Winner.Output
	result.Answer = analyzeOut.Winner.Output.Text
	return model.RunStatusAnalyzed, nil
}

// writeCache persists the completed analysis. Failures are logged: the
// answer has already been produced and must still reach the operator.
func (o *Orchestrator) writeCache(ctx context.Context, req Request, result *model.PipelineResult, log *zap.Logger) {
	if result.FromCache {
		return
	}
	analysis := model.CachedAnalysis{
		Screen:    result.Screen,
		Extract:   result.Extract,
		Equipment: result.Equipment,
	}
	// Only query-free answers are replayable from cache; an answer to a
	// specific question would be wrong for the next question.
	if req.Query == "" {
		analysis.Analyze = result.Analyze
		analysis.Answer = result.Answer
		analysis.Note = result.Note
	}
	if err := o.cache.Store(ctx, result.ImageHash, analysis, result.TotalCostUSD, result.LatencyMS); err != nil {
		log.Warn("cache write failed", zap.Error(err))
	}
}

// SubmitValidationAnswer resolves a pending validation session with a human
// verdict and returns the resolved session.
func (o *Orchestrator) SubmitValidationAnswer(ctx context.Context, sessionID string, confirmed bool) (*model.ValidationSession, error) {
	return o.gate.Submit(ctx, sessionID, confirmed)
}

// ExpireValidationSessions retires presented sessions past their window.
func (o *Orchestrator) ExpireValidationSessions(ctx context.Context) (int, error) {
	return o.gate.ExpireStale(ctx)
}

// PurgeCache removes expired cache entries.
func (o *Orchestrator) PurgeCache(ctx context.Context) (int, error) {
	return o.cache.Purge(ctx)
}

func (o *Orchestrator) markStatus(ctx context.Context, runID string, status model.RunStatus, log *zap.Logger) {
	if err := o.store.UpdateRunStatus(ctx, runID, status); err != nil {
		log.Warn("run status update failed", zap.String("status", string(status)), zap.Error(err))
	}
}

// --- helpers ---

func stageResult[O any](stage model.Stage, winner *cascade.Attempt[O], degraded bool) *model.StageResult {
	return &model.StageResult{
		Stage:      stage,
		Provider:   winner.Provider,
		Confidence: winner.Confidence,
		CostUSD:    winner.CostUSD,
		LatencyMS:  winner.LatencyMS,
		Degraded:   degraded,
	}
}

func fromCacheStage(sr *model.StageResult) *model.StageResult {
	if sr == nil {
		return nil
	}
	out := *sr
	out.FromCache = true
	return &out
}

func screenPayload(sr *model.StageResult) *model.ScreenPayload {
	if sr == nil {
		return nil
	}
	return sr.Screen
}

func extractPayload(sr *model.StageResult) *model.ExtractPayload {
	if sr == nil {
		return nil
	}
	return sr.Extract
}

// rejectionMessage turns a screen refusal into something an operator can
// act on.
func rejectionMessage(reason string) string {
	msg := "That photo doesn't look like industrial equipment, so I can't analyze it."
	if reason != "" {
		msg += " (" + reason + ")"
	}
	return msg + " Send a photo of the unit's nameplate and I'll take it from there."
}

// lowConfidenceRejection covers screens where no provider cleared the
// confidence bar: the photo may well be equipment, but nothing downstream
// can be trusted off a guess.
func lowConfidenceRejection(screen model.ScreenPayload) string {
	msg := "I couldn't tell with enough confidence what that photo shows"
	if screen.Category != "" && screen.Category != categoryNotEquipment {
		msg += " (best guess: " + strings.ReplaceAll(screen.Category, "_", " ") + ")"
	}
	return msg + ", so I'm stopping here. A closer, well-lit shot of the nameplate usually fixes this."
}

// unmatchedNote explains a failed identification using whatever the vision
// stages did manage to see.
func unmatchedNote(screen *model.ScreenPayload, extract *model.ExtractPayload) string {
	if extract != nil && extract.QualityIssue {
		return "I can see equipment but the nameplate isn't legible enough to identify it. " +
			"Try a closer, straight-on shot without glare."
	}
	if screen != nil && screen.Category == categoryEquipmentNoPlate {
		return "I can see the equipment but not a nameplate. Find the manufacturer's data " +
			"plate (usually a metal tag on the frame) and photograph that."
	}
	return "I couldn't read a manufacturer and model from this photo, so I can't look up " +
		"documentation. A clear photo of the nameplate usually fixes this."
}
