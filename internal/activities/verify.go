package activities

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/util"
)

const (
	verificationTemperature = 0.3

	// Uncorroborated claims are discounted and never reach high confidence.
	singleSourceFactor = 0.7
	singleSourceCap    = 0.6
	singleSourceNote   = "Single source - not cross-verified"

	defaultVerifiedConfidence = 0.8
	maxFactSourceURLs         = 3
	conflictingClaimLimit     = 200
)

// Verifier cross-references findings that answer the same question.
type Verifier struct {
	llm    Completer
	logger *zap.Logger
}

// NewVerifier creates a Verifier.
func NewVerifier(completer Completer, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{llm: completer, logger: logger}
}

// findingGroup is the findings sharing one question id.
type findingGroup struct {
	questionID string
	topic      string
	findings   []models.ResearchFinding
}

// VerifyFindings groups findings by question and cross-references every
// group with more than one finding. A group whose cross-reference fails is
// reported as independent single-source facts. Only cancellation of ctx
// returns an error.
func (v *Verifier) VerifyFindings(ctx context.Context, findings []models.ResearchFinding, requestID string) ([]models.VerifiedFact, []models.Discrepancy, error) {
	logger := v.logger.With(zap.String("request_id", requestID))
	facts := []models.VerifiedFact{}
	discrepancies := []models.Discrepancy{}

	groups := groupFindings(findings)
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return facts, discrepancies, err
		}

		if len(g.findings) == 1 {
			facts = append(facts, singleSourceFact(g.findings[0]))
			metrics.FactsVerified.WithLabelValues("single_source").Inc()
			continue
		}

		gf, gd, err := v.crossReference(ctx, g, logger)
		if err != nil {
			if ctx.Err() != nil {
				return facts, discrepancies, ctx.Err()
			}
			logger.Warn("Cross-reference failed, treating findings as single-source",
				zap.String("question_id", g.questionID),
				zap.Int("findings", len(g.findings)),
				zap.Error(err),
			)
			for _, f := range g.findings {
				facts = append(facts, singleSourceFact(f))
			}
			metrics.FactsVerified.WithLabelValues("fallback").Add(float64(len(g.findings)))
			continue
		}
		facts = append(facts, gf...)
		discrepancies = append(discrepancies, gd...)
		metrics.FactsVerified.WithLabelValues("cross_referenced").Add(float64(len(gf)))
		metrics.DiscrepanciesFound.Add(float64(len(gd)))
	}

	logger.Info("Verification finished",
		zap.Int("findings", len(findings)),
		zap.Int("topics", len(groups)),
		zap.Int("verified_facts", len(facts)),
		zap.Int("discrepancies", len(discrepancies)),
	)
	return facts, discrepancies, nil
}

// groupFindings groups by question id, in order of first appearance.
func groupFindings(findings []models.ResearchFinding) []*findingGroup {
	index := make(map[string]*findingGroup)
	var groups []*findingGroup
	for _, f := range findings {
		g, ok := index[f.QuestionID]
		if !ok {
			topic := f.QuestionText
			if topic == "" {
				topic = f.QuestionID
			}
			g = &findingGroup{questionID: f.QuestionID, topic: topic}
			index[f.QuestionID] = g
			groups = append(groups, g)
		}
		g.findings = append(g.findings, f)
	}
	return groups
}

// SingleSourceConfidence is min(c × 0.7, 0.6).
func SingleSourceConfidence(c float64) float64 {
	return math.Min(c*singleSourceFactor, singleSourceCap)
}

func singleSourceFact(f models.ResearchFinding) models.VerifiedFact {
	return models.VerifiedFact{
		ID:           uuid.NewString(),
		Claim:        f.Content,
		Confidence:   SingleSourceConfidence(f.Confidence),
		SourceURLs:   util.DistinctStrings([]string{f.SourceURL}),
		SourceCount:  1,
		IsConsistent: true,
		Notes:        singleSourceNote,
	}
}

type crossRefFinding struct {
	Title, URL, Claim, Timestamp string
}

func (v *Verifier) crossReference(ctx context.Context, g *findingGroup, logger *zap.Logger) ([]models.VerifiedFact, []models.Discrepancy, error) {
	data := struct {
		Topic    string
		Findings []crossRefFinding
	}{Topic: g.topic}
	urls := make([]string, 0, len(g.findings))
	for _, f := range g.findings {
		data.Findings = append(data.Findings, crossRefFinding{
			Title:     f.SourceTitle,
			URL:       f.SourceURL,
			Claim:     f.Content,
			Timestamp: f.ExtractionTimestamp.Format(time.RFC3339),
		})
		urls = append(urls, f.SourceURL)
	}
	system, user, err := renderPrompt(promptCrossReference, data)
	if err != nil {
		return nil, nil, err
	}

	var out crossRefResult
	if err := v.llm.CompleteJSON(ctx, llm.Request{
		Task:         llm.TaskVerification,
		Prompt:       user,
		SystemPrompt: system,
		Temperature:  verificationTemperature,
	}, &out); err != nil {
		return nil, nil, err
	}

	distinct := util.DistinctStrings(urls)
	sourceURLs := distinct
	if len(sourceURLs) > maxFactSourceURLs {
		sourceURLs = sourceURLs[:maxFactSourceURLs]
	}

	facts := make([]models.VerifiedFact, 0, len(out.VerifiedFacts))
	for _, rf := range out.VerifiedFacts {
		claim := strings.TrimSpace(rf.Claim)
		if claim == "" {
			continue
		}
		confidence := defaultVerifiedConfidence
		if rf.Confidence != nil && !math.IsNaN(*rf.Confidence) {
			confidence = math.Max(0, math.Min(1, *rf.Confidence))
		}
		consistent := true
		if rf.IsConsistent != nil {
			consistent = *rf.IsConsistent
		}
		facts = append(facts, models.VerifiedFact{
			ID:           uuid.NewString(),
			Claim:        claim,
			Confidence:   confidence,
			SourceURLs:   append([]string(nil), sourceURLs...),
			SourceCount:  len(g.findings),
			IsConsistent: consistent,
			Notes:        rf.Notes,
		})
	}

	var discrepancies []models.Discrepancy
	if len(out.Discrepancies) > 0 {
		if len(distinct) < 2 {
			logger.Warn("Dropping discrepancies without two distinct sources",
				zap.String("question_id", g.questionID),
				zap.Int("discrepancies", len(out.Discrepancies)),
			)
		} else {
			claims := conflictingClaims(g.findings)
			for _, rd := range out.Discrepancies {
				discrepancies = append(discrepancies, toDiscrepancy(rd, g.topic, claims))
			}
		}
	}

	if len(facts) == 0 && len(discrepancies) == 0 {
		return nil, nil, fmt.Errorf("cross-reference for %s produced no usable facts", g.questionID)
	}
	return facts, discrepancies, nil
}

// conflictingClaims attributes every finding of a group.
func conflictingClaims(findings []models.ResearchFinding) []models.ConflictingClaim {
	claims := make([]models.ConflictingClaim, len(findings))
	for i, f := range findings {
		claims[i] = models.ConflictingClaim{
			Claim:     util.Prefix(f.Content, conflictingClaimLimit),
			SourceURL: f.SourceURL,
			Timestamp: f.ExtractionTimestamp,
		}
	}
	return claims
}

func toDiscrepancy(rd crossRefDiscrepancy, topic string, claims []models.ConflictingClaim) models.Discrepancy {
	if t := strings.TrimSpace(rd.Topic); t != "" {
		topic = t
	}
	notes := strings.TrimSpace(rd.ResolutionNotes)
	if notes == "" {
		notes = strings.TrimSpace(rd.Description)
	}
	return models.Discrepancy{
		ID:                uuid.NewString(),
		Topic:             topic,
		ConflictingClaims: append([]models.ConflictingClaim(nil), claims...),
		ResolutionNotes:   notes,
		PreferredClaim:    strings.TrimSpace(rd.PreferredClaim),
		ResolutionBasis:   models.ParseResolutionBasis(rd.ResolutionBasis),
	}
}
