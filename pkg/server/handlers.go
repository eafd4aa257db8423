package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/itohio/pulsepeak/pkg/annotate"
	"github.com/itohio/pulsepeak/pkg/report"
	"github.com/itohio/pulsepeak/pkg/store"
)

// SessionInfo is a list entry.
type SessionInfo struct {
	Index          int          `json:"index"`
	ID             string       `json:"id"`
	CreatedAt      time.Time    `json:"created_at"`
	DeviceID       string       `json:"device_id"`
	UserName       string       `json:"user_name"`
	SamplingRateHz float64      `json:"sampling_rate_hz"`
	Status         store.Status `json:"status"`
	Label          string       `json:"label"`
}

// SessionView is the state of one session being annotated.
type SessionView struct {
	SessionInfo
	Peaks     []int            `json:"peaks"`
	PeakTimes []float64        `json:"peak_times_s"`
	Summary   annotate.Summary `json:"summary"`
	CanUndo   bool             `json:"can_undo"`
	Signal    []float64        `json:"signal,omitempty"`
}

type detectRequest struct {
	Method string `json:"method"`
}

type toggleRequest struct {
	Time *float64 `json:"time_s"`
}

type toggleResponse struct {
	Edit annotate.Edit `json:"edit"`
	SessionView
}

type saveResponse struct {
	Path string `json:"path"`
	Next int    `json:"next"`
}

type nextResponse struct {
	Next int `json:"next"`
}

func (s *Server) info(idx int, sess store.Session) SessionInfo {
	status := s.statusOf(idx)
	return SessionInfo{
		Index:          idx,
		ID:             sess.ID,
		CreatedAt:      sess.CreatedAt,
		DeviceID:       sess.DeviceID,
		UserName:       sess.UserName,
		SamplingRateHz: sess.SamplingRateHz,
		Status:         status,
		Label:          sess.Label(status),
	}
}

func (s *Server) statusOf(idx int) store.Status {
	status, err := s.ws.Status(idx)
	if err != nil {
		return store.StatusPending
	}
	return status
}

func (s *Server) view(idx int, sess store.Session, e *annotate.Editor, withSignal bool) SessionView {
	v := SessionView{
		SessionInfo: s.info(idx, sess),
		Peaks:       e.Peaks(),
		PeakTimes:   e.PeakTimes(),
		Summary:     e.Summary(),
		CanUndo:     e.CanUndo(),
	}
	if withSignal {
		v.Signal = e.Signal()
	}
	return v
}

func (s *Server) stats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.ws.Stats())
}

func (s *Server) reload(c echo.Context) error {
	if err := s.ws.Reload(c.Request().Context()); err != nil {
		return err
	}
	s.editors.Flush()
	return c.JSON(http.StatusOK, s.ws.Stats())
}

func (s *Server) list(c echo.Context) error {
	n := s.ws.Len()
	out := make([]SessionInfo, 0, n)
	for i := 0; i < n; i++ {
		sess, err := s.ws.Session(i)
		if err != nil {
			break
		}
		out = append(out, s.info(i, sess))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) get(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, sess, e, err := s.editor(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.view(idx, sess, e, c.QueryParam("signal") == "true"))
}

func (s *Server) detect(c echo.Context) error {
	var req detectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid detect request")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx, sess, e, err := s.editor(c)
	if err != nil {
		return err
	}

	start := time.Now()
	switch req.Method {
	case "", string(annotate.MethodAuto):
		e.Detect(annotate.MethodAuto)
	case string(annotate.MethodAdaptive):
		e.Detect(annotate.MethodAdaptive)
	case "model":
		if s.opts.Detector == nil {
			return ErrNoModel
		}
		if _, err := e.DetectModel(s.opts.Detector, s.opts.ModelSampleRate); err != nil {
			return err
		}
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown detection method "+req.Method)
	}
	s.opts.Metrics.ObserveDetection(time.Since(start).Seconds())
	s.opts.Metrics.RecordEdit("detect")
	s.log.Debug("Peaks detected", zap.String("session", sess.ID), zap.String("method", req.Method), zap.Int("peaks", len(e.Peaks())))

	return c.JSON(http.StatusOK, s.view(idx, sess, e, false))
}

func (s *Server) toggle(c echo.Context) error {
	var req toggleRequest
	if err := c.Bind(&req); err != nil || req.Time == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "time_s is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx, sess, e, err := s.editor(c)
	if err != nil {
		return err
	}
	edit, err := e.Toggle(*req.Time)
	if err != nil {
		return err
	}
	s.opts.Metrics.RecordEdit(string(edit.Kind))
	return c.JSON(http.StatusOK, toggleResponse{Edit: edit, SessionView: s.view(idx, sess, e, false)})
}

func (s *Server) undo(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, sess, e, err := s.editor(c)
	if err != nil {
		return err
	}
	if err := e.Undo(); err != nil {
		return err
	}
	s.opts.Metrics.RecordEdit("undo")
	return c.JSON(http.StatusOK, s.view(idx, sess, e, false))
}

func (s *Server) save(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, _, e, err := s.editor(c)
	if err != nil {
		return err
	}
	path, err := s.ws.Save(idx, e)
	if err != nil {
		s.opts.Metrics.RecordSave("error")
		return err
	}
	s.opts.Metrics.RecordSave(string(store.StatusDone))
	return c.JSON(http.StatusOK, saveResponse{Path: path, Next: s.ws.NextPending(idx)})
}

func (s *Server) bad(c echo.Context) error {
	idx, err := index(c)
	if err != nil {
		return err
	}
	if err := s.ws.MarkBad(idx); err != nil {
		return err
	}
	s.opts.Metrics.RecordSave(string(store.StatusBad))
	return c.JSON(http.StatusOK, nextResponse{Next: s.ws.NextPending(idx)})
}

func (s *Server) next(c echo.Context) error {
	idx, err := index(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nextResponse{Next: s.ws.NextPending(idx)})
}

func (s *Server) chart(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, sess, e, err := s.editor(c)
	if err != nil {
		return err
	}
	title := sess.DeviceID + " - " + sess.UserName + " (" + sess.ShortID() + ")"
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(http.StatusOK)
	toggleURL := strings.TrimSuffix(c.Request().URL.Path, "/chart") + "/toggle"
	return report.WriteEditableSessionHTML(c.Response(), toggleURL, title, e.Signal(), e.SampleRate(), e.Peaks(), nil)
}
