package report

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/signintech/gopdf"

	"treatment-journey/internal/consultation"
)

// Sender delivers reports to a chat.
type Sender interface {
	SendMessage(chatID int64, text string) error
	SendDocument(chatID int64, fileData []byte, fileName, caption string) error
}

var defaultFontPaths = []string{
	"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
}

type Service struct {
	sender    Sender
	chatID    int64
	fontPaths []string
	now       func() time.Time
	log       zerolog.Logger
}

// NewService builds a report service. fontPath, when set, is tried before the
// usual DejaVu locations. sender may be nil when only rendering is needed.
func NewService(sender Sender, chatID int64, fontPath string, log zerolog.Logger) *Service {
	paths := defaultFontPaths
	if fontPath != "" {
		paths = append([]string{fontPath}, defaultFontPaths...)
	}
	return &Service{
		sender:    sender,
		chatID:    chatID,
		fontPaths: paths,
		now:       time.Now,
		log:       log.With().Str("component", "report").Logger(),
	}
}

// SendJourneyReport renders the journey with the facts behind it and sends it
// to the care-team chat.
func (s *Service) SendJourneyReport(ctx context.Context, journeyID string, j consultation.Journey, st consultation.MedicalState) error {
	if s.sender == nil {
		return fmt.Errorf("no report channel configured")
	}
	caption := fmt.Sprintf("Treatment journey %s: %d medication(s), %d appointment(s), %d treatment(s)",
		journeyID, len(st.Medications), len(st.Appointments), len(st.Treatments))

	data, err := s.render(journeyID, j, &st)
	if err != nil {
		s.log.Warn().Err(err).Str("journey_id", journeyID).Msg("pdf unavailable, sending text summary")
		if err := s.sender.SendMessage(s.chatID, textSummary(caption, st)); err != nil {
			return fmt.Errorf("send journey summary: %w", err)
		}
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	fileName := fmt.Sprintf("journey_%s.pdf", journeyID)
	if err := s.sender.SendDocument(s.chatID, data, fileName, caption); err != nil {
		return fmt.Errorf("send journey report: %w", err)
	}
	s.log.Info().Str("journey_id", journeyID).Int64("chat_id", s.chatID).Msg("journey report sent")
	return nil
}

func textSummary(caption string, st consultation.MedicalState) string {
	var b strings.Builder
	b.WriteString(caption)
	for _, m := range st.Medications {
		fmt.Fprintf(&b, "\n- Medication: %s, %s, %s", m.Name, m.Dosage, m.Timing)
	}
	for _, a := range st.Appointments {
		fmt.Fprintf(&b, "\n- Appointment: %s %s %s", a.Date, a.Time, a.Description)
	}
	for _, t := range st.Treatments {
		fmt.Fprintf(&b, "\n- Treatment: %s, %s", t.Name, t.Procedure)
	}
	return b.String()
}

// RenderJourneyPDF renders a journey on its own.
func (s *Service) RenderJourneyPDF(journeyID string, j consultation.Journey) ([]byte, error) {
	return s.render(journeyID, j, nil)
}

func (s *Service) render(journeyID string, j consultation.Journey, st *consultation.MedicalState) ([]byte, error) {
	pdf := gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	if err := s.loadFont(&pdf); err != nil {
		return nil, err
	}

	w := &writer{pdf: &pdf}
	title := j.Title
	if title == "" {
		title = "Treatment Journey"
	}
	w.heading(20, title)
	w.line(fmt.Sprintf("Journey: %s", journeyID))
	w.line(fmt.Sprintf("Generated: %s", s.now().Format("02.01.2006 15:04")))
	w.gap(10)

	if st != nil {
		w.heading(14, "Collected facts")
		if len(st.Medications)+len(st.Appointments)+len(st.Treatments) == 0 {
			w.line("- No facts collected.")
		}
		for _, m := range st.Medications {
			w.line(fmt.Sprintf("- Medication: %s, %s, %s", m.Name, m.Dosage, m.Timing))
		}
		for _, a := range st.Appointments {
			w.line(fmt.Sprintf("- Appointment: %s %s %s", a.Date, a.Time, a.Description))
		}
		for _, t := range st.Treatments {
			w.line(fmt.Sprintf("- Treatment: %s, %s", t.Name, t.Procedure))
		}
		w.gap(10)
	}

	w.heading(14, "Daily schedule")
	for _, e := range j.DailySchedule {
		w.line(fmt.Sprintf("- %s: %s %s %s", e.Time, e.Medication, e.Dosage, e.Instructions))
	}
	w.heading(14, "Milestones")
	for _, m := range j.Milestones {
		w.line(fmt.Sprintf("- %s (%s): %s", m.Title, m.Datetime, m.Description))
	}
	w.heading(14, "Reminders")
	for _, r := range j.Reminders {
		w.line(fmt.Sprintf("- [%s] %s", r.Priority, r.Message))
	}
	w.heading(14, "Follow-up appointments")
	for _, a := range j.Appointments {
		w.line(fmt.Sprintf("- %s %s: %s", a.Date, a.Time, a.Description))
	}
	if w.err != nil {
		return nil, w.err
	}

	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Service) loadFont(pdf *gopdf.GoPdf) error {
	var fontErr error
	for _, path := range s.fontPaths {
		if err := pdf.AddTTFFont("DejaVu", path); err == nil {
			return nil
		} else {
			fontErr = err
		}
	}
	return fmt.Errorf("failed to load font for PDF, install ttf-dejavu or set report.font_path: %w", fontErr)
}

// A4 is 842pt tall.
const pageBottom = 780

// writer wraps gopdf calls and remembers the first error.
type writer struct {
	pdf *gopdf.GoPdf
	err error
}

func (w *writer) heading(size float64, text string) {
	w.setFont(size)
	w.cell(text)
	w.pdf.Br(size + 6)
	w.setFont(11)
}

func (w *writer) line(text string) {
	if w.err != nil {
		return
	}
	w.setFont(11)
	lines, err := w.pdf.SplitText(text, 500)
	if err != nil {
		w.err = err
		return
	}
	for _, l := range lines {
		if w.pdf.GetY() > pageBottom {
			w.pdf.AddPage()
		}
		w.cell(l)
		w.pdf.Br(14)
	}
}

func (w *writer) gap(h float64) {
	w.pdf.Br(h)
}

func (w *writer) setFont(size float64) {
	if w.err != nil {
		return
	}
	w.err = w.pdf.SetFont("DejaVu", "", size)
}

func (w *writer) cell(text string) {
	if w.err != nil {
		return
	}
	w.err = w.pdf.Cell(nil, text)
}
