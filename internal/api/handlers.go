package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pulsebook/pulsebook/internal/model"
	"github.com/pulsebook/pulsebook/internal/records"
	"github.com/pulsebook/pulsebook/internal/remotedb"
	"github.com/pulsebook/pulsebook/internal/sync"
)

// healthTimeout bounds the store probes of the health endpoint.
const healthTimeout = 3 * time.Second

// maxImportRows caps a single import request.
const maxImportRows = 5000

// --- Sync --------------------------------------------------------------------

type syncStatusResponse struct {
	Status       string       `json:"status"`
	PendingCount int          `json:"pending_count"`
	Message      string       `json:"message"`
	Running      bool         `json:"running"`
	LastRun      *lastRunView `json:"last_run,omitempty"`
}

type lastRunView struct {
	Started  time.Time   `json:"started"`
	Duration string      `json:"duration"`
	Result   sync.Result `json:"result"`
}

func (s *Server) syncStatus(c echo.Context) error {
	n, err := s.deps.Engine.PendingCount(c.Request().Context())
	if err != nil {
		return fmt.Errorf("counting pending records: %w", err)
	}
	resp := syncStatusResponse{
		Status:       "online",
		PendingCount: n,
		Message:      fmt.Sprintf("%d records pending upload", n),
		Running:      s.deps.Engine.Running(),
	}
	if last := s.deps.Engine.Last(); last != nil {
		resp.LastRun = &lastRunView{
			Started:  last.Started,
			Duration: last.Duration.String(),
			Result:   last.Result,
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) syncTrigger(c echo.Context) error {
	// A client that hangs up must not abort a pass halfway.
	ctx := context.WithoutCancel(c.Request().Context())
	res, err := s.deps.Engine.SyncAll(ctx)
	if errors.Is(err, sync.ErrSyncInProgress) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// --- Records -----------------------------------------------------------------

func (s *Server) saveRecord(c echo.Context) error {
	var in records.SaveInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := s.deps.Records.Save(c.Request().Context(), principal(c).UserID, in)
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

type recordView struct {
	ID             int64             `json:"id"`
	GlobalID       string            `json:"global_id"`
	PatientID      *int64            `json:"patient_id"`
	PractitionerID *int64            `json:"practitioner_id,omitempty"`
	VisitDate      time.Time         `json:"visit_date"`
	Complaint      string            `json:"complaint"`
	Diagnosis      string            `json:"diagnosis"`
	MedicalRecord  map[string]any    `json:"medical_record"`
	PulseGrid      map[string]string `json:"pulse_grid"`
	SyncStatus     model.SyncStatus  `json:"sync_status"`
}

func (s *Server) getRecord(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	rec, err := s.deps.Records.Get(c.Request().Context(), id, principal(c).Scope())
	if err != nil {
		return toHTTP(err)
	}
	medical := rec.Data.Section(model.DocMedicalRecord)
	if medical == nil {
		medical = map[string]any{}
	}
	return c.JSON(http.StatusOK, recordView{
		ID:             rec.ID,
		GlobalID:       rec.GlobalID,
		PatientID:      rec.PatientID,
		PractitionerID: rec.PractitionerID,
		VisitDate:      rec.VisitDate,
		Complaint:      rec.Complaint,
		Diagnosis:      rec.Diagnosis,
		MedicalRecord:  medical,
		PulseGrid:      rec.Data.PulseGrid(),
		SyncStatus:     rec.SyncStatus,
	})
}

func (s *Server) deleteRecord(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	p := principal(c)
	owner := p.UserID
	if p.IsAdmin() {
		owner = 0
	}
	if err := s.deps.Records.Delete(c.Request().Context(), id, owner); err != nil {
		return toHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "record deleted"})
}

type searchRequest struct {
	PulseGrid map[string]string `json:"pulse_grid"`
}

func (s *Server) searchSimilar(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	matches, err := s.deps.Search.SearchSimilar(c.Request().Context(), req.PulseGrid, principal(c).Scope())
	if err != nil {
		return fmt.Errorf("similarity search: %w", err)
	}
	return c.JSON(http.StatusOK, matches)
}

// --- Patients ----------------------------------------------------------------

func (s *Server) searchPatients(c echo.Context) error {
	q := c.QueryParam("query")
	if q == "" {
		return c.JSON(http.StatusOK, []*model.Patient{})
	}
	ps, err := s.deps.Records.SearchPatients(c.Request().Context(), q, principal(c).Scope())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ps)
}

func (s *Server) patientHistory(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	h, err := s.deps.Records.PatientHistory(c.Request().Context(), id, principal(c).Scope())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h)
}

// --- Import ------------------------------------------------------------------

func (s *Server) importRecords(c echo.Context) error {
	var rows []records.SaveInput
	if err := c.Bind(&rows); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "expected a JSON array of records")
	}
	if len(rows) > maxImportRows {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("at most %d rows per import", maxImportRows))
	}
	rep, err := s.deps.Records.Import(c.Request().Context(), principal(c).UserID, rows)
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(http.StatusOK, rep)
}

// --- Directory ---------------------------------------------------------------

type userView struct {
	ID          int64  `json:"id"`
	GlobalID    string `json:"global_id"`
	Username    string `json:"username"`
	Role        string `json:"role"`
	AccountType string `json:"account_type"`
}

func (s *Server) createUser(c echo.Context) error {
	var in records.UserInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	u, err := s.deps.Records.CreateUser(c.Request().Context(), in)
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(http.StatusCreated, userView{
		ID:          u.ID,
		GlobalID:    u.GlobalID,
		Username:    u.Username,
		Role:        u.Role,
		AccountType: u.AccountType,
	})
}

func (s *Server) listPractitioners(c echo.Context) error {
	ps, err := s.deps.Records.ListPractitioners(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ps)
}

func (s *Server) createPractitioner(c echo.Context) error {
	var in records.PractitionerInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := s.deps.Records.CreatePractitioner(c.Request().Context(), in)
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(http.StatusCreated, p)
}

// --- Health ------------------------------------------------------------------

type healthResponse struct {
	Status string              `json:"status"`
	Local  string              `json:"local"`
	Remote string              `json:"remote"`
	Pool   *remotedb.PoolStats `json:"pool,omitempty"`
}

func (s *Server) health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Local: "ok", Remote: "disabled"}
	code := http.StatusOK

	if err := s.deps.Local.Ping(ctx); err != nil {
		resp.Status = "unhealthy"
		resp.Local = err.Error()
		code = http.StatusServiceUnavailable
	}

	// The remote being down is normal for an offline-first install.
	if s.deps.Remote != nil {
		if err := s.deps.Remote.Ping(ctx); err != nil {
			resp.Remote = "unreachable"
			if resp.Status == "ok" {
				resp.Status = "degraded"
			}
		} else {
			resp.Remote = "ok"
		}
		resp.Pool = s.deps.Remote.Stats()
	}

	return c.JSON(code, resp)
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}
