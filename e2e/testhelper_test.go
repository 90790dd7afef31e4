package e2e

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/voiceforge/api/internal/auth"
	"github.com/voiceforge/api/internal/client"
	"github.com/voiceforge/api/internal/handler"
	"github.com/voiceforge/api/internal/middleware"
	"github.com/voiceforge/api/internal/service"
	"github.com/voiceforge/api/internal/store"
	"github.com/voiceforge/api/internal/synth"
)

const testJWTSecret = "test-secret-for-e2e"

// testApp holds all components needed for testing
type testApp struct {
	app *fiber.App
}

// setupApp creates a Fiber app wired like main.go but with local temp-dir
// storage and the stub synthesizer, so no external services are needed.
// Redis must be running on localhost; tests skip otherwise.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	redisClient := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // use DB 15 for tests to avoid collision
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { redisClient.Close() })

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr: "localhost:6379",
		DB:   15,
	})
	t.Cleanup(func() { asynqClient.Close() })

	validate := validator.New()

	storage, err := client.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	stub := synth.NewStubSynthesizer(storage)
	stub.DelayPerWord = 0

	generationStore := store.NewGenerationStore(redisClient)
	sampleStore := store.NewSampleStore(redisClient)

	generationService := service.NewGenerationService(
		generationStore, sampleStore, storage, asynqClient, stub, 30*time.Second)
	sampleService := service.NewSampleService(sampleStore, storage, 50*1024*1024)

	generationHandler := handler.NewGenerationHandler(generationService, validate)
	sampleHandler := handler.NewSampleHandler(sampleService, validate, 50*1024*1024)

	authMiddleware := middleware.NewAuthMiddleware(testJWTSecret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := fiber.New(fiber.Config{
		BodyLimit: 50 * 1024 * 1024,
	})

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": 1234567890})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis":    true,
				"provider": stub.Name(),
				"storage":  true,
				"auth":     true,
			},
		})
	})

	api := app.Group("/api", authMiddleware.Authenticate())

	// Use very high rate limits so tests don't get blocked
	generations := api.Group("/generations")
	generations.Post("/", rateLimiter.GenerateLimit(10000), generationHandler.Create)
	generations.Get("/", generationHandler.List)
	generations.Get("/:id", generationHandler.Get)
	generations.Get("/:id/status", generationHandler.Status)
	generations.Get("/:id/download", generationHandler.Download)
	generations.Post("/:id/retry", generationHandler.Retry)
	generations.Delete("/:id", generationHandler.Delete)

	samples := api.Group("/samples")
	samples.Post("/", rateLimiter.UploadLimit(10000), sampleHandler.Upload)
	samples.Get("/", sampleHandler.List)
	samples.Get("/:id", sampleHandler.Get)
	samples.Delete("/:id", sampleHandler.Delete)

	return &testApp{app: app}
}

// generateTokenFor creates an HMAC JWT for a specific user.
func generateTokenFor(t *testing.T, userID string) string {
	t.Helper()
	claims := auth.Claims{
		UserID: userID,
		Email:  userID + "@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "voiceforge-api",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs a request authenticated as the given user.
func doAuthRequest(t *testing.T, app *fiber.App, userID, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateTokenFor(t, userID)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// wavFixture builds a minimal valid WAV file: 16kHz mono 16-bit, one second.
func wavFixture(t *testing.T) []byte {
	t.Helper()
	const (
		sampleRate = 16000
		byteRate   = sampleRate * 2
		dataSize   = byteRate // one second
	)

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	buf.Write(make([]byte, dataSize))
	return buf.Bytes()
}

// uploadSample uploads a WAV fixture for the user and returns the sample ID.
func uploadSample(t *testing.T, app *fiber.App, userID string) string {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	header := make(map[string][]string)
	header["Content-Disposition"] = []string{`form-data; name="file"; filename="voice.wav"`}
	header["Content-Type"] = []string{"audio/wav"}
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create form part: %v", err)
	}
	part.Write(wavFixture(t))
	writer.WriteField("name", "Test Voice")
	writer.Close()

	req, err := http.NewRequest(http.MethodPost, "/api/samples/", &body)
	if err != nil {
		t.Fatalf("failed to build upload request: %v", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+generateTokenFor(t, userID))

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("upload request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusCreated)

	result := parseJSON(t, resp)
	id, _ := result["id"].(string)
	if id == "" {
		t.Fatal("expected sample id in upload response")
	}
	return id
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
