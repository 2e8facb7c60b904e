// Package builder assembles a Record for one polling station from the results
// API. Building never fails: every upstream gap degrades to a zero, empty, or
// null field so a station is always persisted once discovered.
package builder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/cne-results-crawler/internal/crawler"
	"github.com/JakeFAU/cne-results-crawler/internal/metrics"
	"github.com/JakeFAU/cne-results-crawler/internal/votes"
)

// Config controls endpoints, vote codes, and asset naming.
type Config struct {
	BaseAPI    string
	Level      string
	BlankCodes []string
	NullCodes  []string
	// SpecialVotesPause separates the main calls from the special-vote calls.
	SpecialVotesPause time.Duration
	DocumentsDir      string
	LogosDir          string
	DocumentPrefix    string
}

// Builder implements crawler.RecordBuilder.
type Builder struct {
	cfg     Config
	fetcher crawler.DataFetcher
	assets  crawler.AssetDownloader
	clock   crawler.Clock
	logger  *zap.Logger
}

var _ crawler.RecordBuilder = (*Builder)(nil)

// New wires a Builder.
func New(cfg Config, fetcher crawler.DataFetcher, assets crawler.AssetDownloader, clock crawler.Clock, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DocumentPrefix == "" {
		cfg.DocumentPrefix = "HND_2025_JRV_"
	}
	if cfg.Level == "" {
		cfg.Level = "01"
	}
	return &Builder{cfg: cfg, fetcher: fetcher, assets: assets, clock: clock, logger: logger}
}

// stationQuery is the POST body shared by every results endpoint.
type stationQuery struct {
	Codes        []string `json:"codigos"`
	Level        string   `json:"tipco"`
	Station      int64    `json:"mesa"`
	Department   string   `json:"depto"`
	Municipality string   `json:"mcpio"`
	Zone         string   `json:"zona"`
	Center       string   `json:"pesto"`
	Commune      string   `json:"comuna"`
}

func (b *Builder) query(item crawler.WorkItem, codes []string) stationQuery {
	if codes == nil {
		codes = []string{}
	}
	return stationQuery{
		Codes:        codes,
		Level:        b.cfg.Level,
		Station:      item.StationID,
		Department:   item.Path.DepartmentCode,
		Municipality: item.Path.MunicipalityCode,
		Zone:         item.Path.ZoneCode,
		Center:       item.Path.CenterCode,
		Commune:      "00",
	}
}

func (b *Builder) endpoint(suffix string) string {
	return strings.TrimRight(b.cfg.BaseAPI, "/") + "/presentacion-resultados" + suffix
}

// Build fetches every facet of the station and returns the assembled record.
func (b *Builder) Build(ctx context.Context, item crawler.WorkItem) crawler.Record {
	base := b.query(item, nil)

	var validity, turnout, results json.RawMessage
	var g errgroup.Group
	g.Go(func() error {
		validity, _ = b.fetcher.Fetch(ctx, http.MethodPost, b.endpoint("/actas-validas"), base)
		return nil
	})
	g.Go(func() error {
		turnout, _ = b.fetcher.Fetch(ctx, http.MethodPost, b.endpoint("/sufragantes"), base)
		return nil
	})
	g.Go(func() error {
		results, _ = b.fetcher.Fetch(ctx, http.MethodPost, b.endpoint(""), base)
		return nil
	})
	_ = g.Wait() //nolint:errcheck // fetches report absence, not errors

	_ = crawler.Pause(ctx, b.cfg.SpecialVotesPause) //nolint:errcheck // cancellation surfaces in the calls below

	blankRaw, _ := b.fetcher.Fetch(ctx, http.MethodPost, b.endpoint("/votos"), b.query(item, b.cfg.BlankCodes))
	nullRaw, _ := b.fetcher.Fetch(ctx, http.MethodPost, b.endpoint("/votos"), b.query(item, b.cfg.NullCodes))

	record := crawler.Record{
		StationID: item.StationID,
		Geography: geography(item.Path),
	}
	record.Timestamps.ExtractedAt = b.now()

	validityFields := crawler.Object(validity)
	record.Audit = audit(validityFields)

	turnoutFields := crawler.Object(turnout)
	record.Stats.Census = turnoutFields.Int("sufragantes")
	record.Stats.Signatures = turnoutFields.Int("cantidadDeFirmas")
	record.Stats.TurnoutPercent = turnoutFields.Float("participacion")

	resultFields := crawler.Object(results)
	if cutoff, ok := resultFields["fecha_corte"]; ok {
		record.Timestamps.ServerCutoff = cutoff
	}

	blank := votes.Decode(blankRaw)
	null := votes.Decode(nullRaw)
	metrics.ObserveSpecialVoteShape("blank", blank.Shape.String())
	metrics.ObserveSpecialVoteShape("null", null.Shape.String())
	record.Stats.BlankVotes = blank.Total
	record.Stats.NullVotes = null.Total

	record.Candidates = b.candidates(ctx, resultFields["candidatos"])
	record.Documents = b.document(ctx, item)
	record.ComputeTotals()

	b.logger.Debug("Record built",
		zap.Int64("id_jrv", item.StationID),
		zap.Int("candidates", len(record.Candidates)),
		zap.String("blank_shape", blank.Shape.String()),
		zap.String("null_shape", null.Shape.String()),
	)
	return record
}

func geography(p crawler.GeoPath) crawler.Geography {
	return crawler.Geography{
		DepartmentCode:   p.DepartmentCode,
		DepartmentName:   p.DepartmentName,
		MunicipalityCode: p.MunicipalityCode,
		MunicipalityName: p.MunicipalityName,
		ZoneCode:         p.ZoneCode,
		ZoneName:         p.ZoneName,
		CenterCode:       p.CenterCode,
		CenterName:       p.CenterName,
	}
}

func audit(fields crawler.Fields) crawler.Audit {
	status := crawler.AuditNotPublished
	if fields.Int("publicadas") == 1 {
		status = crawler.AuditPublished
	}
	return crawler.Audit{
		Status:                    status,
		Correct:                   fields.Int("correctas"),
		Inconsistent:              fields.Int("inconsistencias"),
		InVerification:            fields.Int("verificacion"),
		PendingVisualVerification: fields.Int("pendientesVerificacionVisual"),
		Waiting:                   fields.Int("espera"),
	}
}

// candidates decodes the result lines and downloads both logos for each one
// concurrently; all downloads finish before the lines are returned.
func (b *Builder) candidates(ctx context.Context, raw json.RawMessage) []crawler.CandidateResult {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return []crawler.CandidateResult{}
	}

	out := make([]crawler.CandidateResult, 0, len(items))
	var g errgroup.Group
	for _, item := range items {
		fields := crawler.Object(item)
		partyID := fields.Text("parpo_id", "0")
		candidateID := fields.Text("cddto_codigo", "000")
		line := crawler.CandidateResult{
			PartyID:       partyID,
			PartyIDInt:    fields.Int("parpo_id_int"),
			CandidateID:   candidateID,
			CandidateName: fields.Text("cddto_nombres", ""),
			PartyName:     fields.Text("parpo_nombre", ""),
			Votes:         fields.Int("votos"),
			ColorHex:      fields.Text("parpo_color", ""),
			Images: crawler.LocalImages{
				Party:     fmt.Sprintf("Partido_%s.png", partyID),
				Candidate: fmt.Sprintf("Cand_%s_%s.png", partyID, candidateID),
			},
		}
		out = append(out, line)

		partyLogo := fields.Text("parpo_link_logo", "")
		candidateLogo := fields.Text("cddto_link_logo", "")
		g.Go(func() error {
			b.assets.Download(ctx, partyLogo, b.cfg.LogosDir, line.Images.Party)
			return nil
		})
		g.Go(func() error {
			b.assets.Download(ctx, candidateLogo, b.cfg.LogosDir, line.Images.Candidate)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // downloads never return errors
	return out
}

func (b *Builder) document(ctx context.Context, item crawler.WorkItem) crawler.Documents {
	docs := crawler.Documents{}
	url := strings.TrimSpace(item.DocumentURL)
	if url == "" {
		return docs
	}
	tokenized := url
	source := strings.SplitN(url, "?", 2)[0]
	docs.TokenizedURL = &tokenized
	docs.SourceURL = &source

	filename := fmt.Sprintf("%s%05d.pdf", b.cfg.DocumentPrefix, item.StationID)
	if name, ok := b.assets.Download(ctx, url, b.cfg.DocumentsDir, filename); ok {
		docs.Downloaded = true
		docs.LocalName = &name
	}
	return docs
}

func (b *Builder) now() time.Time {
	if b.clock == nil {
		return time.Now().UTC()
	}
	return b.clock.Now()
}
