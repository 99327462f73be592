package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/leapstack-labs/nodebook/internal/analyze"
	"github.com/leapstack-labs/nodebook/internal/harness"
	"github.com/leapstack-labs/nodebook/internal/lower"
	"github.com/leapstack-labs/nodebook/internal/notebook"
	"github.com/leapstack-labs/nodebook/internal/registry"
	"github.com/leapstack-labs/nodebook/internal/state"
	"github.com/starfederation/datastar-go/datastar"
)

func (s *Server) routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/packages/*", s.lookupPackage)

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", s.listProjects)
			r.Post("/", s.createProject)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getProject)
				r.Put("/", s.updateProject)
				r.Delete("/", s.deleteProject)
				r.Get("/export", s.exportProject)
				r.Get("/events", s.projectEvents)

				r.Post("/cells", s.addCell)
				r.Put("/cells/{cellID}", s.editCell)
				r.Delete("/cells/{cellID}", s.removeCell)
				r.Post("/cells/{cellID}/run", s.runCell)
				r.Get("/cells/{cellID}/run/stream", s.runCellStream)

				r.Post("/packages", s.addPackage)
				r.Delete("/packages/*", s.removePackage)
			})
		})
	})
}

// projectView is a stored project with its decoded notebook.
type projectView struct {
	*state.Project
	Notebook *notebook.Project `json:"notebook"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var (
		lerr *lower.LoweringError
		aerr *analyze.AnalysisError
		cerr *harness.ConstructionError
	)
	switch {
	case errors.Is(err, state.ErrProjectNotFound),
		errors.Is(err, notebook.ErrCellNotFound),
		errors.Is(err, notebook.ErrPackageNotFound),
		errors.Is(err, registry.ErrPackageNotFound):
		return http.StatusNotFound
	case errors.As(err, &lerr), errors.As(err, &aerr), errors.As(err, &cerr),
		errors.Is(err, registry.ErrNotNPM):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.List(r.Context(), s.userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if projects == nil {
		projects = []*state.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.Name == "" {
		body.Name = "Untitled"
	}
	p, err := s.store.Create(r.Context(), s.userID, body.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.load(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	view := projectView{Project: p}
	sess.View(func(nb *notebook.Project) {
		view.Notebook = nb
		data, _ := json.Marshal(view)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	})
}

func (s *Server) updateProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Name     *string          `json:"name"`
		Public   *bool            `json:"public"`
		Notebook *json.RawMessage `json:"notebook"`
	}
	if !decode(w, r, &body) {
		return
	}

	ctx := r.Context()
	if body.Name != nil {
		if err := s.store.Rename(ctx, id, *body.Name); err != nil {
			writeError(w, err)
			return
		}
	}
	if body.Public != nil {
		if err := s.store.SetPublic(ctx, id, *body.Public); err != nil {
			writeError(w, err)
			return
		}
	}
	if body.Notebook != nil {
		nb, err := notebook.Import(*body.Notebook, notebook.FormatJSON)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if err := s.store.Save(ctx, id, nb); err != nil {
			writeError(w, err)
			return
		}
		s.replace(id, nb)
	}

	p, err := s.store.Get(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) deleteProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	s.drop(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) exportProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.load(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	format := notebook.Format(r.URL.Query().Get("format"))
	data, err := sess.Export(format)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if format == notebook.FormatYAML {
		w.Header().Set("Content-Type", "application/yaml")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	_, _ = w.Write(data)
}

func (s *Server) addCell(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Name   string `json:"name"`
		Source string `json:"source"`
	}
	if !decode(w, r, &body) {
		return
	}
	sess, err := s.load(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	c := sess.AddCell(body.Name, body.Source)
	if err := s.persist(r.Context(), id, sess); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": c.ID})
}

func (s *Server) editCell(w http.ResponseWriter, r *http.Request) {
	id, cellID := chi.URLParam(r, "id"), chi.URLParam(r, "cellID")
	var body struct {
		Name   *string `json:"name"`
		Source *string `json:"source"`
	}
	if !decode(w, r, &body) {
		return
	}
	sess, err := s.load(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	if body.Source != nil {
		if err := sess.Edit(cellID, *body.Source); err != nil {
			writeError(w, err)
			return
		}
	}
	if body.Name != nil {
		err := sess.Update(func(p *notebook.Project) error {
			return p.Rename(cellID, *body.Name)
		})
		if err != nil {
			writeError(w, err)
			return
		}
	}
	if err := s.persist(r.Context(), id, sess); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) removeCell(w http.ResponseWriter, r *http.Request) {
	id, cellID := chi.URLParam(r, "id"), chi.URLParam(r, "cellID")
	sess, err := s.load(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := sess.RemoveCell(cellID); err != nil {
		writeError(w, err)
		return
	}
	if err := s.persist(r.Context(), id, sess); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) runCell(w http.ResponseWriter, r *http.Request) {
	id, cellID := chi.URLParam(r, "id"), chi.URLParam(r, "cellID")
	sess, err := s.load(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := sess.RunCell(r.Context(), cellID)
	if perr := s.persist(r.Context(), id, sess); perr != nil {
		s.logger.Error("failed to save project after run", "project_id", id, "error", perr)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	s.notifier.Broadcast(Event{ProjectID: id, Result: res})
	writeJSON(w, http.StatusOK, res)
}

// runSignals are the datastar signals patched while a cell runs.
type runSignals struct {
	Running    bool   `json:"running"`
	CellID     string `json:"cellId,omitempty"`
	Output     string `json:"output"`
	DurationMs int64  `json:"durationMs"`
	Failed     bool   `json:"failed"`
	Error      string `json:"error,omitempty"`
}

// runCellStream runs a cell and streams its progress as datastar signals.
func (s *Server) runCellStream(w http.ResponseWriter, r *http.Request) {
	id, cellID := chi.URLParam(r, "id"), chi.URLParam(r, "cellID")
	sse := datastar.NewSSE(w, r)

	sess, err := s.load(r.Context(), id)
	if err != nil {
		_ = sse.ConsoleError(err)
		_ = sse.MarshalAndPatchSignals(runSignals{CellID: cellID, Error: err.Error()})
		return
	}

	_ = sse.MarshalAndPatchSignals(runSignals{Running: true, CellID: cellID})

	res, err := sess.RunCell(r.Context(), cellID)
	if perr := s.persist(r.Context(), id, sess); perr != nil {
		s.logger.Error("failed to save project after run", "project_id", id, "error", perr)
	}
	if err != nil {
		_ = sse.ConsoleError(err)
		_ = sse.MarshalAndPatchSignals(runSignals{CellID: cellID, Error: err.Error()})
		return
	}
	s.notifier.Broadcast(Event{ProjectID: id, Result: res})

	_ = sse.MarshalAndPatchSignals(runSignals{
		CellID:     cellID,
		Output:     res.Output,
		DurationMs: res.DurationMs,
		Failed:     res.Failed,
	})
}

// projectEvents streams the results of runs made by other clients.
func (s *Server) projectEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	sse := datastar.NewSSE(w, r)
	events := s.notifier.Subscribe(id)
	defer s.notifier.Unsubscribe(events)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			err := sse.MarshalAndPatchSignals(runSignals{
				CellID:     ev.Result.CellID,
				Output:     ev.Result.Output,
				DurationMs: ev.Result.DurationMs,
				Failed:     ev.Result.Failed,
			})
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) lookupPackage(w http.ResponseWriter, r *http.Request) {
	info, err := s.registry.Lookup(r.Context(), chi.URLParam(r, "*"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) addPackage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Name    string `json:"name"`
		Version string `json:"version"`
		URL     string `json:"url"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "package name is required"})
		return
	}
	sess, err := s.load(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	pkg := notebook.Package{Name: body.Name, Version: body.Version, URL: body.URL}
	if pkg.URL == "" {
		pkg, err = s.registry.Package(r.Context(), body.Name, body.Version)
		if err != nil {
			writeError(w, err)
			return
		}
	}
	_ = sess.Update(func(p *notebook.Project) error {
		p.AddPackage(pkg)
		return nil
	})
	if err := s.persist(r.Context(), id, sess); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pkg)
}

func (s *Server) removePackage(w http.ResponseWriter, r *http.Request) {
	id, name := chi.URLParam(r, "id"), chi.URLParam(r, "*")
	sess, err := s.load(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	err = sess.Update(func(p *notebook.Project) error {
		return p.RemovePackage(name)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.persist(r.Context(), id, sess); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
