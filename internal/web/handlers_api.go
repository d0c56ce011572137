package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"mesh-ctl-client/internal/ctl"
	"mesh-ctl-client/internal/mesh"
	"mesh-ctl-client/internal/node"
	"mesh-ctl-client/internal/store"
)

type configResponse struct {
	Name         string          `json:"name"`
	Appearance   uint16          `json:"appearance"`
	Manufacturer string          `json:"manufacturer"`
	Model        string          `json:"model"`
	LowPower     bool            `json:"low_power"`
	Composition  mesh.CoreConfig `json:"composition"`
	Commands     []string        `json:"commands"`
}

func (s *Server) handleAPIConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, configResponse{
		Name:         ctl.DeviceName,
		Appearance:   ctl.AppearanceTouchPanel,
		Manufacturer: cString(ctl.ManufacturerName),
		Model:        cString(ctl.ModelNumber),
		LowPower:     s.lowPower,
		Composition:  ctl.DeviceConfig(s.lowPower),
		Commands:     ctl.CommandNames(),
	})
}

// cString returns b up to its first NUL.
func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func (s *Server) handleAPINode(w http.ResponseWriter, r *http.Request) {
	state, err := s.store.GetNodeState()
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "node state not recorded")
		return
	}
	if err != nil {
		s.logger.Error("get node state", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleAPIListStatus(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListStatuses()
	if err != nil {
		s.logger.Error("list statuses", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	out := make([]*store.StatusRecord, 0, len(recs))
	eventType := r.URL.Query().Get("type")
	for _, rec := range recs {
		if eventType == "" || rec.Type == eventType {
			out = append(out, rec)
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAPIGetStatus(w http.ResponseWriter, r *http.Request) {
	src, err := parseAddress(r.PathValue("src"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid source address")
		return
	}
	rec, err := s.store.GetStatus(r.PathValue("type"), src)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "status not found")
		return
	}
	if err != nil {
		s.logger.Error("get status", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAPIDeleteStatus(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteStatuses(); err != nil {
		s.logger.Error("delete statuses", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseAddress reads a hex unicast address, with or without 0x.
func parseAddress(s string) (uint16, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

type commandResponse struct {
	Command string `json:"command"`
	Opcode  string `json:"opcode"`
	Handled bool   `json:"handled"`
}

func (s *Server) handleAPICommand(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	handled, opcode, err := s.submit(r.Context(), name, body, "http")
	switch {
	case errors.Is(err, ctl.ErrUnknownCommand):
		s.writeError(w, http.StatusNotFound, "unknown command")
		return
	case errors.Is(err, errBadRequest):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, node.ErrStopped), errors.Is(err, node.ErrNoApp):
		s.writeError(w, http.StatusServiceUnavailable, "node not running")
		return
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		s.writeError(w, http.StatusGatewayTimeout, "command timed out")
		return
	case err != nil:
		s.logger.Error("submit command", "cmd", name, "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.writeJSON(w, http.StatusOK, commandResponse{
		Command: name,
		Opcode:  fmt.Sprintf("0x%04X", opcode),
		Handled: handled,
	})
}

var errBadRequest = errors.New("invalid request")

// submit encodes a named command, runs it and announces it on the bus.
func (s *Server) submit(ctx context.Context, name string, body []byte, source string) (bool, uint16, error) {
	opcode, data, err := ctl.EncodeRequest(name, body)
	if err != nil {
		if errors.Is(err, ctl.ErrUnknownCommand) {
			return false, 0, err
		}
		return false, 0, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	handled, err := s.commander.Submit(ctx, opcode, data)
	if err != nil {
		return false, opcode, err
	}
	s.bus.Emit(node.Event{Type: node.EventCommand, Data: node.CommandEvent{
		Name: name, Opcode: opcode, Source: source, Handled: handled,
	}})
	return handled, opcode, nil
}
