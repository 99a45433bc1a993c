package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

var errUnsupportedFormat = errors.New("unsupported output format")

// connectionView mirrors internal/admin's connectionSummary JSON shape.
type connectionView struct {
	ClientAddr string `json:"client_addr"`
	Created    int64  `json:"created"`
	LastActive int64  `json:"last_active"`
	Connecting bool   `json:"remote_connecting"`
}

// sessionView mirrors internal/admin's sessionSummary JSON shape.
type sessionView struct {
	ClientAddr string `json:"client_addr"`
	Created    int64  `json:"created"`
	LastActive int64  `json:"last_active"`
}

// statsView mirrors internal/stats.Snapshot's JSON shape.
type statsView struct {
	TCPRx, TCPTx   uint64
	UDPRx, UDPTx   uint64
	TCPPop, UDPPop int64
}

func fetchJSON(path string, out any) error {
	resp, err := httpClient.Get(adminURL(path))
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s: status %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func formatConnections(conns []connectionView, format string) (string, error) {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(conns, "", "  ")
		return string(data), err
	case formatTable:
		var buf strings.Builder
		w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CLIENT\tCREATED\tLAST-ACTIVE\tCONNECTING")
		for _, c := range conns {
			fmt.Fprintf(w, "%s\t%d\t%d\t%v\n", c.ClientAddr, c.Created, c.LastActive, c.Connecting)
		}
		if err := w.Flush(); err != nil {
			return "", err
		}
		return buf.String(), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatSessions(sessions []sessionView, format string) (string, error) {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(sessions, "", "  ")
		return string(data), err
	case formatTable:
		var buf strings.Builder
		w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CLIENT\tCREATED\tLAST-ACTIVE")
		for _, s := range sessions {
			fmt.Fprintf(w, "%s\t%d\t%d\n", s.ClientAddr, s.Created, s.LastActive)
		}
		if err := w.Flush(); err != nil {
			return "", err
		}
		return buf.String(), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatStats(s statsView, format string) (string, error) {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(s, "", "  ")
		return string(data), err
	case formatTable:
		var buf strings.Builder
		w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "TCP RX:\t%d\n", s.TCPRx)
		fmt.Fprintf(w, "TCP TX:\t%d\n", s.TCPTx)
		fmt.Fprintf(w, "UDP RX:\t%d\n", s.UDPRx)
		fmt.Fprintf(w, "UDP TX:\t%d\n", s.UDPTx)
		fmt.Fprintf(w, "TCP connections:\t%d\n", s.TCPPop)
		fmt.Fprintf(w, "UDP sessions:\t%d\n", s.UDPPop)
		if err := w.Flush(); err != nil {
			return "", err
		}
		return buf.String(), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}
