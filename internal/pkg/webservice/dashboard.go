package webservice

import (
	"archive/zip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

const maxUploadBytes = 64 << 20

func (s *Server) uploadTestSystem(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respond(w, http.StatusBadRequest, envelope{"message": "No file part"})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respond(w, http.StatusBadRequest, envelope{"message": "No file part"})
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if filename == "" || filename == "." {
		respond(w, http.StatusBadRequest, envelope{"message": "No selected file"})
		return
	}
	if !strings.HasSuffix(filename, ".zip") {
		respond(w, http.StatusBadRequest, envelope{"message": "Invalid file type"})
		return
	}

	zipPath := filepath.Join(s.cfg.TestSystemsDir, filename)
	dst, err := os.Create(zipPath)
	if err != nil {
		respond(w, http.StatusInternalServerError, envelope{"status": "error", "message": err.Error()})
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		respond(w, http.StatusInternalServerError, envelope{"status": "error", "message": err.Error()})
		return
	}
	dst.Close()

	extractPath := filepath.Join(s.cfg.TestSystemsDir, strings.TrimSuffix(filename, ".zip"))
	if err := extractZip(zipPath, extractPath); err != nil {
		respond(w, http.StatusInternalServerError, envelope{"status": "error", "message": err.Error()})
		return
	}
	os.Remove(zipPath)
	respond(w, http.StatusOK, envelope{
		"status":  "success",
		"message": fmt.Sprintf("Uploaded '%s'.", filename),
	})
}

// extractZip unpacks an archive, refusing entries that escape the
// destination directory.
func extractZip(zipPath, dest string) error {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return err
	}
	defer reader.Close()

	for _, f := range reader.File {
		target := filepath.Join(dest, f.Name)
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes destination", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		src, err := f.Open()
		if err != nil {
			return err
		}
		dst, err := os.Create(target)
		if err != nil {
			src.Close()
			return err
		}
		_, err = io.Copy(dst, src)
		dst.Close()
		src.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) switchActiveSystem(w http.ResponseWriter, r *http.Request) {
	payload := struct {
		SystemName string `json:"system_name"`
	}{}
	if !decode(w, r, &payload) {
		return
	}
	systemName := filepath.Base(payload.SystemName)
	masterPath := filepath.Join(s.cfg.TestSystemsDir, systemName, "Master.dss")
	if _, err := os.Stat(masterPath); err != nil {
		respond(w, http.StatusNotFound, envelope{
			"message": fmt.Sprintf("Master.dss not found for system '%s'.", systemName),
		})
		return
	}
	if err := s.circuit.SwitchMaster(masterPath); err != nil {
		// Revert to the base system so the service keeps answering.
		if rerr := s.circuit.Reset(); rerr != nil {
			respond(w, http.StatusInternalServerError, envelope{"status": "error", "message": rerr.Error()})
			return
		}
		s.runAndUpdateState()
		respond(w, http.StatusInternalServerError, envelope{"status": "error", "message": err.Error()})
		return
	}
	details := s.runAndUpdateState()
	respond(w, http.StatusOK, envelope{
		"status":  "success",
		"message": fmt.Sprintf("Switched to %s", systemName),
		"results": details,
	})
}

func (s *Server) saveCache(w http.ResponseWriter, r *http.Request) {
	payload := struct {
		Filename string `json:"filename"`
	}{}
	if !decode(w, r, &payload) {
		return
	}
	filename := cacheFilename(payload.Filename)
	raw, err := s.circuit.State()
	if err != nil {
		respond(w, http.StatusInternalServerError, envelope{"status": "error", "message": err.Error()})
		return
	}
	if err := os.WriteFile(filepath.Join(s.cfg.CacheDir, filename), raw, 0644); err != nil {
		respond(w, http.StatusInternalServerError, envelope{"status": "error", "message": err.Error()})
		return
	}
	respond(w, http.StatusOK, envelope{
		"status":  "success",
		"message": fmt.Sprintf("Saved state to '%s'.", filename),
	})
}

func (s *Server) loadCache(w http.ResponseWriter, r *http.Request) {
	payload := struct {
		Filename string `json:"filename"`
	}{}
	if !decode(w, r, &payload) {
		return
	}
	filename := cacheFilename(payload.Filename)
	raw, err := os.ReadFile(filepath.Join(s.cfg.CacheDir, filename))
	if err != nil {
		respond(w, http.StatusNotFound, envelope{
			"message": fmt.Sprintf("Cache file '%s' not found.", filename),
		})
		return
	}
	if err := s.circuit.SetState(raw); err != nil {
		if rerr := s.circuit.Reset(); rerr != nil {
			respond(w, http.StatusInternalServerError, envelope{"status": "error", "message": rerr.Error()})
			return
		}
		s.runAndUpdateState()
		respond(w, http.StatusInternalServerError, envelope{"status": "error", "message": err.Error()})
		return
	}
	details := s.runAndUpdateState()
	respond(w, http.StatusOK, envelope{
		"status":  "success",
		"message": fmt.Sprintf("Loaded state from '%s'.", filename),
		"results": details,
	})
}

func (s *Server) resetSimulation(w http.ResponseWriter, r *http.Request) {
	if err := s.circuit.Reset(); err != nil {
		respond(w, http.StatusInternalServerError, envelope{"status": "error", "message": err.Error()})
		return
	}
	details := s.runAndUpdateState()
	respond(w, http.StatusOK, envelope{
		"status":  "success",
		"message": "Simulation reset to base state.",
		"results": details,
	})
}

func cacheFilename(name string) string {
	name = filepath.Base(name)
	if !strings.HasSuffix(name, ".cache") {
		name += ".cache"
	}
	return name
}
