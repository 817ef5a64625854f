package api

import (
	"net/http"

	"github.com/assistly/relay/id"
)

func (h *Handler) listConnections(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.backend.Connections())
}

func (h *Handler) getConnection(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")
	for _, c := range h.backend.Connections() {
		if c.Identity == identity {
			writeJSON(w, http.StatusOK, c)
			return
		}
	}
	writeError(w, http.StatusNotFound, "connection not found")
}

func (h *Handler) disconnect(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")
	if !h.backend.Disconnect(identity) {
		writeError(w, http.StatusNotFound, "connection not found")
		return
	}

	h.logger.Info("connection closed by admin", "identity", identity)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getSocket(w http.ResponseWriter, r *http.Request) {
	connID, err := id.ParseConnID(r.PathValue("conn_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	info, ok := h.backend.Socket(connID)
	if !ok {
		writeError(w, http.StatusNotFound, "socket not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) closeSocket(w http.ResponseWriter, r *http.Request) {
	connID, err := id.ParseConnID(r.PathValue("conn_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !h.backend.CloseSocket(connID) {
		writeError(w, http.StatusNotFound, "socket not found")
		return
	}

	h.logger.Info("socket closed by admin", "conn_id", connID.String())
	w.WriteHeader(http.StatusNoContent)
}
