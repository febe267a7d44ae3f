package main

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/wolfman30/wellbeing-platform/internal/app/bootstrap"
	appconfig "github.com/wolfman30/wellbeing-platform/internal/config"
	"github.com/wolfman30/wellbeing-platform/internal/compliance"
	"github.com/wolfman30/wellbeing-platform/internal/detection"
	"github.com/wolfman30/wellbeing-platform/internal/http/handlers"
	"github.com/wolfman30/wellbeing-platform/internal/resources"
	"github.com/wolfman30/wellbeing-platform/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	h, err := newHandler(cfg, logger)
	if err != nil {
		logger.Error("failed to initialise assessment lambda", "error", err)
		panic(err)
	}
	lambda.Start(func(ctx context.Context, evt events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		return handle(ctx, h, evt)
	})
}

// newHandler builds a detection-only assessment handler. Events are never
// opened from the lambda; callers that need escalation use the API.
func newHandler(cfg *appconfig.Config, logger *logging.Logger) (*handlers.AssessmentHandler, error) {
	catalog, err := bootstrap.BuildCatalog(cfg, logger)
	if err != nil {
		return nil, err
	}
	detector := detection.NewDetector(catalog, logger.WithComponent("detection"))
	return handlers.NewAssessmentHandler(detector, resources.NewComposer(nil), logger).
		WithDisclaimer(compliance.NewDisclaimerService(nil, compliance.DefaultDisclaimerConfig())), nil
}

func handle(ctx context.Context, h *handlers.AssessmentHandler, evt events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	method := strings.ToUpper(strings.TrimSpace(evt.RequestContext.HTTP.Method))
	path := strings.TrimSpace(evt.RawPath)
	if path == "" {
		path = strings.TrimSpace(evt.RequestContext.HTTP.Path)
	}

	if path == "/health" || path == "/_health" {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusOK, Body: "ok"}, nil
	}
	if path != "/v1/assessments" {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusNotFound}, nil
	}
	if method != http.MethodPost {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusMethodNotAllowed}, nil
	}

	body, err := decodeBody(evt)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusBadRequest, Body: "invalid body"}, nil
	}

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)).WithContext(ctx)
	if ct := headerValue(evt.Headers, "content-type"); ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	rec := httptest.NewRecorder()
	h.Assess(rec, req)

	out := events.APIGatewayV2HTTPResponse{
		StatusCode: rec.Code,
		Body:       rec.Body.String(),
		Headers:    map[string]string{},
	}
	if ct := rec.Header().Get("Content-Type"); ct != "" {
		out.Headers["content-type"] = ct
	}
	return out, nil
}

func decodeBody(evt events.APIGatewayV2HTTPRequest) (string, error) {
	if !evt.IsBase64Encoded {
		return evt.Body, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(evt.Body)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
