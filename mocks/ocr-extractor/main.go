package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort       = "8081"
	defaultAPIKey     = "ocr-extractor-secret-key"
	defaultLatencyMs  = "50"
	defaultConfidence = 0.97
	maxDocumentBytes  = 10 << 20
)

// ExtractResponse matches what the verification service expects from POST /extract.
type ExtractResponse struct {
	Fields     map[string]string  `json:"fields"`
	Confidence map[string]float64 `json:"confidence"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

var (
	apiKey    = getEnv("API_KEY", defaultAPIKey)
	latencyMs = getEnvInt("LATENCY_MS", defaultLatencyMs)
)

// Magic markers let e2e tests drive failure modes from the document body.
const (
	markerUnreadable = "#unreadable"
	markerOutage     = "#outage"
	markerSlow       = "#slow"
)

var aliases = map[string]string{
	"student_id":     "student_id",
	"student_number": "student_id",
	"student_name":   "student_name",
	"name":           "student_name",
	"degree":         "degree_name",
	"degree_name":    "degree_name",
	"institute":      "institute_id",
	"institute_id":   "institute_id",
	"institution":    "institute_id",
	"conferred":      "issued_at",
	"issued_at":      "issued_at",
}

func main() {
	port := getEnv("PORT", defaultPort)

	http.HandleFunc("/health", handleHealth)
	http.HandleFunc("/extract", handleExtract)

	log.Printf("Mock OCR extractor starting on port %s", port)
	log.Printf("Simulated latency: %dms", latencyMs)

	srv := &http.Server{Addr: ":" + port, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal(err)
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "ocr-extractor",
	})
}

func handleExtract(w http.ResponseWriter, r *http.Request) {
	time.Sleep(time.Duration(latencyMs) * time.Millisecond)
	log.Printf("Incoming request: %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)

	if r.Method != http.MethodPost {
		sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.Header.Get("X-API-Key") != apiKey {
		sendError(w, "Invalid API key", http.StatusUnauthorized)
		return
	}

	doc, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentBytes+1))
	if err != nil {
		sendError(w, "Failed to read document", http.StatusBadRequest)
		return
	}
	if len(doc) > maxDocumentBytes {
		sendError(w, "Document too large", http.StatusRequestEntityTooLarge)
		return
	}

	lower := bytes.ToLower(doc)
	switch {
	case bytes.Contains(lower, []byte(markerOutage)):
		sendError(w, "Extraction backend unavailable", http.StatusServiceUnavailable)
		return
	case bytes.Contains(lower, []byte(markerSlow)):
		time.Sleep(30 * time.Second)
	case bytes.Contains(lower, []byte(markerUnreadable)):
		sendError(w, "Document unreadable", http.StatusUnprocessableEntity)
		return
	}

	resp := extract(doc)
	if len(resp.Fields) == 0 {
		sendError(w, "No fields found", http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Printf("Extracted %d fields", len(resp.Fields))
}

// extract reads "Label: value" lines. A trailing "?" on a value marks a
// low-confidence read and is stripped.
func extract(doc []byte) ExtractResponse {
	out := ExtractResponse{Fields: map[string]string{}, Confidence: map[string]float64{}}
	sc := bufio.NewScanner(bytes.NewReader(doc))
	for sc.Scan() {
		label, value, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(label)), " ", "_")
		if canonical, ok := aliases[key]; ok {
			key = canonical
		}
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		if _, seen := out.Fields[key]; seen {
			continue
		}
		confidence := defaultConfidence
		if trimmed, low := strings.CutSuffix(value, "?"); low {
			value = strings.TrimSpace(trimmed)
			confidence = 0.4
		}
		out.Fields[key] = value
		out.Confidence[key] = confidence
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Message: message,
		Code:    code,
	})
	log.Printf("Error response: %d - %s", code, message)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key, defaultValue string) int {
	value := getEnv(key, defaultValue)
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %s", key, defaultValue)
		intValue, _ = strconv.Atoi(defaultValue)
	}
	return intValue
}
