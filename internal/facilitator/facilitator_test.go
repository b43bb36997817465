package facilitator

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/convene/internal/assist"
	"github.com/MrWong99/convene/internal/enrich"
	"github.com/MrWong99/convene/internal/generate"
	"github.com/MrWong99/convene/internal/response"
	"github.com/MrWong99/convene/pkg/blob/memblob"
	"github.com/MrWong99/convene/pkg/provider/llm"
	llmmock "github.com/MrWong99/convene/pkg/provider/llm/mock"
	"github.com/MrWong99/convene/pkg/store"
	"github.com/MrWong99/convene/pkg/store/memstore"
	"github.com/MrWong99/convene/pkg/types"
)

var sectionChunks = []llm.Chunk{
	{Text: `{"sections":[{"emoji":"👍","title":"Een","description":"eerste"}`},
	{Text: `,{"emoji":"👎","title":"Twee","description":"tweede"}`},
	{Text: `,{"emoji":"🤔","title":"Drie","description":"derde"}`},
	{Text: `,{"emoji":"🎉","title":"Vier","description":"vierde"}]}`, FinishReason: "stop"},
}

type fixture struct {
	svc   *Service
	st    *memstore.Store
	blobs *memblob.Store
	model *llmmock.Provider
	sess  *store.Session
}

func newFixture(t *testing.T, model *llmmock.Provider, opts ...func(*Deps)) *fixture {
	t.Helper()
	st := memstore.New()
	blobs := memblob.New()
	deps := Deps{
		Store:        st,
		Blobs:        blobs,
		Fetcher:      blobs,
		Assistant:    assist.New(model),
		Orchestrator: generate.New(model),
	}
	for _, o := range opts {
		o(&deps)
	}
	svc, err := New(deps, WithRand(rand.New(rand.NewPCG(1, 2))))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })

	sess, err := svc.CreateSession(context.Background(), NewSession{Title: "Strategiedag", UserID: "u1"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return &fixture{svc: svc, st: st, blobs: blobs, model: model, sess: sess}
}

func (f *fixture) key() response.Key {
	return response.Key{SessionID: f.sess.ID, SlideID: f.sess.Slides[0].ID}
}

// eventually polls cond until it holds or fails the test.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestSendVoiceMessage_EndToEnd(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	model := &llmmock.Provider{StreamChunks: sectionChunks, Gate: gate}
	f := newFixture(t, model)
	ctx := context.Background()

	f.sess.Slides[0].AgentInstructions = "Stel kritische vragen over het budget."
	if _, err := f.svc.UpdateSession(ctx, *f.sess, "u1"); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	type result struct {
		resp *store.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := f.svc.SendVoiceMessage(ctx, VoiceMessage{
			SessionID: f.key().SessionID,
			SlideID:   f.key().SlideID,
			UserID:    "u1",
			Audio:     []byte("opus frames"),
			MIMEType:  "audio/webm",
		})
		done <- result{resp, err}
	}()

	// (a) an empty temporary response is visible before the model answers.
	eventually(t, "empty temporary response", func() bool {
		p := f.svc.Responses().Temporary(f.key())
		return p != nil && p.Sections != nil && len(p.Sections) == 0
	})

	// (b) sections appear one by one as chunks validate.
	for n := 1; n <= 2; n++ {
		gate <- struct{}{}
		eventually(t, "growing sections", func() bool {
			p := f.svc.Responses().Temporary(f.key())
			return p != nil && len(p.Sections) == n
		})
	}
	close(gate)

	// (c) one durable response with four sections, temporary cleared.
	res := <-done
	if res.err != nil {
		t.Fatalf("SendVoiceMessage: %v", res.err)
	}
	if len(res.resp.Sections) != 4 {
		t.Errorf("committed %d sections, want 4", len(res.resp.Sections))
	}
	if f.svc.Responses().Temporary(f.key()) != nil {
		t.Error("temporary response not cleared")
	}
	stored, err := f.st.ListResponses(ctx, store.Filter{SessionID: f.key().SessionID, SlideID: f.key().SlideID})
	if err != nil {
		t.Fatalf("ListResponses: %v", err)
	}
	if len(stored) != 1 || !slices.Equal(stored[0].Sections, res.resp.Sections) {
		t.Errorf("stored = %+v", stored)
	}

	req := model.StreamCalls[0].Req
	if len(req.History) != 0 {
		t.Errorf("history = %+v, want empty", req.History)
	}
	if len(req.Parts) != 3 {
		t.Fatalf("turn has %d parts, want 3", len(req.Parts))
	}
	if !strings.HasPrefix(req.Parts[0].Text, assist.ContentInstructionsHeader) ||
		!strings.Contains(req.Parts[0].Text, "kritische vragen") {
		t.Errorf("content instructions part = %q", req.Parts[0].Text)
	}
	if req.Parts[1].Text != assist.SystemInstructions {
		t.Error("second part is not the system instructions")
	}
	if req.Parts[2].Inline == nil || req.Parts[2].Inline.MIMEType != "audio/webm" {
		t.Errorf("media part = %+v", req.Parts[2])
	}
}

func TestSendVoiceMessage_DefaultInstructions(t *testing.T) {
	t.Parallel()

	model := &llmmock.Provider{StreamChunks: sectionChunks}
	f := newFixture(t, model)
	if _, err := f.svc.SendVoiceMessage(context.Background(), VoiceMessage{
		SessionID: f.key().SessionID, SlideID: f.key().SlideID, Audio: []byte("x"), MIMEType: "audio/ogg",
	}); err != nil {
		t.Fatalf("SendVoiceMessage: %v", err)
	}
	if p := model.StreamCalls[0].Req.Parts[0].Text; !strings.Contains(p, assist.DefaultContentInstructions) {
		t.Errorf("content part = %q, want the default instructions", p)
	}
}

func TestSendVoiceMessage_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		model    *llmmock.Provider
		audio    []byte
		wantKind error
	}{
		{name: "malformed output", model: &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "geen json"}}}, audio: []byte("a"), wantKind: types.ErrMalformedOutput},
		{name: "empty output", model: &llmmock.Provider{}, audio: []byte("a"), wantKind: types.ErrEmptyOutput},
		{name: "transport", model: &llmmock.Provider{StreamErr: errors.New("503")}, audio: []byte("a"), wantKind: types.ErrTransport},
		{name: "no audio", model: &llmmock.Provider{}, audio: nil, wantKind: types.ErrMediaRead},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, tt.model)
			_, err := f.svc.SendVoiceMessage(context.Background(), VoiceMessage{
				SessionID: f.key().SessionID, SlideID: f.key().SlideID, Audio: tt.audio, MIMEType: "audio/webm",
			})
			if !errors.Is(err, tt.wantKind) {
				t.Fatalf("err = %v, want %v", err, tt.wantKind)
			}
			if f.svc.Responses().Temporary(f.key()) != nil {
				t.Error("temporary response left behind after failure")
			}
			stored, _ := f.st.ListResponses(context.Background(), store.Filter{SessionID: f.key().SessionID})
			if len(stored) != 0 {
				t.Errorf("failed turn wrote %d responses", len(stored))
			}
		})
	}
}

func TestSendVoiceMessage_UnknownSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &llmmock.Provider{StreamChunks: sectionChunks})
	_, err := f.svc.SendVoiceMessage(context.Background(), VoiceMessage{SessionID: "nope", SlideID: "x", Audio: []byte("a"), MIMEType: "audio/webm"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestSendVoiceMessage_Preamble(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	model := &llmmock.Provider{StreamChunks: sectionChunks, Gate: gate}
	fast := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "Ik hoor twijfel"}, {Text: " over de planning.", FinishReason: "stop"}}}
	f := newFixture(t, model, func(d *Deps) { d.Preamble = generate.NewPreamble(fast) })

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.SendVoiceMessage(context.Background(), VoiceMessage{
			SessionID: f.key().SessionID, SlideID: f.key().SlideID,
			Audio: []byte("a"), MIMEType: "audio/webm",
			TranscriptHint: "we twijfelen over de planning",
		})
		done <- err
	}()

	eventually(t, "preamble text", func() bool {
		p := f.svc.Responses().Temporary(f.key())
		return p != nil && p.Thinking == "Ik hoor twijfel over de planning."
	})
	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("SendVoiceMessage: %v", err)
	}
	if f.svc.Responses().Temporary(f.key()) != nil {
		t.Error("preamble outlived the committed turn")
	}
}

func TestSubmitRecording_BuildsHistory(t *testing.T) {
	t.Parallel()

	model := &llmmock.Provider{StreamChunks: sectionChunks}
	f := newFixture(t, model)
	ctx := context.Background()

	rec := Recording{
		SessionID: f.key().SessionID, SlideID: f.key().SlideID, UserID: "u1",
		Audio: []byte("eerste"), MIMEType: "audio/webm;codecs=opus",
		Transcript: " wat is ons doel ",
	}
	note, resp, err := f.svc.SubmitRecording(ctx, rec)
	if err != nil {
		t.Fatalf("SubmitRecording: %v", err)
	}
	if resp == nil || len(resp.Sections) != 4 {
		t.Fatalf("response = %+v", resp)
	}
	if note.FullText != "wat is ons doel" || note.FullTextSource != store.ProvenanceDeviceLocal {
		t.Errorf("note transcript = %q (%s)", note.FullText, note.FullTextSource)
	}
	wantPrefix := "sessions/" + f.key().SessionID + "/" + note.File.ID + ".webm"
	if note.File.StoragePath != wantPrefix || note.File.Kind != store.FileAudio {
		t.Errorf("file = %+v", note.File)
	}
	if f.blobs.Len() != 1 {
		t.Errorf("blobs stored = %d, want 1", f.blobs.Len())
	}
	if len(model.StreamCalls[0].Req.History) != 0 {
		t.Error("current note leaked into its own history")
	}

	rec.Audio, rec.Transcript = []byte("tweede"), "en hoe meten we dat"
	if _, _, err := f.svc.SubmitRecording(ctx, rec); err != nil {
		t.Fatalf("second SubmitRecording: %v", err)
	}
	hist := model.StreamCalls[1].Req.History
	if len(hist) != 2 || hist[0].Role != types.RoleUser || hist[1].Role != types.RoleModel {
		t.Fatalf("history = %+v, want user then model", hist)
	}
	if hist[0].Parts[0].Text != "wat is ons doel" {
		t.Errorf("user turn = %q", hist[0].Parts[0].Text)
	}
	if !strings.Contains(hist[1].Parts[0].Text, `"sections"`) {
		t.Errorf("model turn = %q", hist[1].Parts[0].Text)
	}
}

func TestSessions(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &llmmock.Provider{})
	ctx := context.Background()

	if len(f.sess.Slides) != 1 {
		t.Fatalf("slides = %+v", f.sess.Slides)
	}
	sl := f.sess.Slides[0]
	if sl.Title != DefaultSlideTitle || sl.Duration != store.DefaultSlideDuration || sl.ID == "" {
		t.Errorf("default slide = %+v", sl)
	}
	if !slices.Contains(Palette, sl.Color) {
		t.Errorf("color %q not in palette", sl.Color)
	}

	got, err := f.svc.GetSession(ctx, f.sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	got.Slides = append(got.Slides, store.Slide{Title: "Slide 2"})
	updated, err := f.svc.UpdateSession(ctx, *got, "u2")
	if err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	added := updated.Slides[1]
	if added.ID == "" || added.Color == "" || added.Duration != store.DefaultSlideDuration {
		t.Errorf("new slide not completed: %+v", added)
	}

	if _, err := f.svc.GetSession(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetSession(missing) err = %v", err)
	}
	if _, err := f.svc.CreateSession(ctx, NewSession{Title: " "}); err == nil {
		t.Error("CreateSession accepted a blank title")
	}
}

func TestUploadDocument_Enriched(t *testing.T) {
	t.Parallel()

	model := &llmmock.Provider{CompleteFunc: func(req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		if req.ResponseMIMEType == "application/json" {
			return &llm.CompletionResponse{Content: `{"title":"Budget 2027","summary":"Het budget stijgt.","emoji":"💶"}`}, nil
		}
		return &llm.CompletionResponse{Content: "Het budget voor 2027 stijgt met 4%."}, nil
	}}
	var asst *assist.Assistant
	f := newFixture(t, model, func(d *Deps) {
		asst = d.Assistant
		d.Enricher = enrich.New(d.Store, d.Blobs, d.Fetcher, asst)
	})
	ctx := context.Background()

	note, err := f.svc.UploadDocument(ctx, Upload{SessionID: f.sess.ID, UserID: "u1", Data: []byte("%PDF-1.7 ..."), MIMEType: "application/pdf"})
	if err != nil {
		t.Fatalf("UploadDocument: %v", err)
	}
	if note.File.Kind != store.FileDocument || note.FullTextSource != store.ProvenanceNone {
		t.Errorf("note = %+v", note)
	}

	if err := f.svc.WatchSession(ctx, f.sess.ID); err != nil {
		t.Fatalf("WatchSession: %v", err)
	}
	if err := f.svc.WatchSession(ctx, f.sess.ID); err != nil {
		t.Fatalf("second WatchSession: %v", err)
	}
	eventually(t, "enriched note", func() bool {
		notes, err := f.svc.ListNotes(ctx, f.sess.ID)
		return err == nil && len(notes) == 1 && notes[0].Enriched()
	})
	notes, _ := f.svc.ListNotes(ctx, f.sess.ID)
	if notes[0].Title != "Budget 2027" || notes[0].Emoji != "💶" || !strings.Contains(notes[0].FullText, "4%") {
		t.Errorf("enriched note = %+v", notes[0])
	}
}

func TestHelpers(t *testing.T) {
	t.Parallel()

	model := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: " hallo allemaal \n"}}
	f := newFixture(t, model)
	ctx := context.Background()

	if got, err := f.svc.TranscribeAudio(ctx, []byte("a"), "audio/webm"); err != nil || got != "hallo allemaal" {
		t.Errorf("TranscribeAudio = %q, %v", got, err)
	}
	if got, err := f.svc.ExtractText(ctx, []byte("%PDF"), "application/pdf"); err != nil || got != "hallo allemaal" {
		t.Errorf("ExtractText = %q, %v", got, err)
	}
	if _, err := f.svc.GenerateSummary(ctx, "tekst"); !errors.Is(err, types.ErrMalformedOutput) {
		t.Errorf("GenerateSummary err = %v, want malformed", err)
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	if _, err := New(Deps{}); err == nil {
		t.Error("New accepted empty deps")
	}
}
