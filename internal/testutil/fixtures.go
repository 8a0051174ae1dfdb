package testutil

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/Baaaki/heartscan/internal/inference"
	"github.com/Baaaki/heartscan/internal/models"
	"github.com/Baaaki/heartscan/internal/utils"
	"gorm.io/gorm"
)

// fastHashParams keep fixture users cheap to create; VerifyPassword reads
// the parameters back from the hash, so logins work unchanged.
var fastHashParams = utils.HashParams{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

// CreateTestUser inserts a user with a hashed password.
func CreateTestUser(t *testing.T, db *gorm.DB, email, password string, role models.Role) *models.User {
	t.Helper()

	hash, err := utils.HashPasswordWithParams(password, fastHashParams)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		Role:         role,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create test user %s: %v", email, err)
	}
	return user
}

// DefaultTestUser returns a default test user (regular user)
func DefaultTestUser(t *testing.T, db *gorm.DB) *models.User {
	return CreateTestUser(t, db, "test@example.com", "Test123456", models.RoleUser)
}

// DefaultAdminUser returns a default admin user
func DefaultAdminUser(t *testing.T, db *gorm.DB) *models.User {
	return CreateTestUser(t, db, "admin@example.com", "Admin123456", models.RoleAdmin)
}

// DefaultModeratorUser returns a default moderator user
func DefaultModeratorUser(t *testing.T, db *gorm.DB) *models.User {
	return CreateTestUser(t, db, "moderator@example.com", "Moderator123456", models.RoleModerator)
}

// TestClassifier returns a small model over DefaultLabels: strongly red
// images map to "Abnormal Heartbeat", green to "History of MI", blue to
// "Myocardial Infarction" and grey to "Normal".
func TestClassifier(t *testing.T) *inference.Model {
	t.Helper()

	model, err := inference.NewModel(inference.Artifact{
		Version: "test-classifier",
		Input:   inference.InputShape{Width: 16, Height: 16, Channels: 3},
		Grid:    1,
		Labels:  inference.DefaultLabels,
		Weights: [][]float32{
			{6, -3, -3},
			{-3, 6, -3},
			{-3, -3, 6},
			{1, 1, 1},
		},
		Bias: []float32{0, 0, 0, 0},
	})
	if err != nil {
		t.Fatalf("Failed to build test classifier: %v", err)
	}
	return model
}

func solidImage(c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// PNGFixture encodes a solid-color PNG.
func PNGFixture(t *testing.T, c color.Color) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, solidImage(c)); err != nil {
		t.Fatalf("Failed to encode PNG fixture: %v", err)
	}
	return buf.Bytes()
}

// JPEGFixture encodes a solid-color JPEG.
func JPEGFixture(t *testing.T, c color.Color) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, solidImage(c), &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("Failed to encode JPEG fixture: %v", err)
	}
	return buf.Bytes()
}

// PNGHeaderFixture returns a PNG signature and a valid IHDR chunk declaring
// width x height RGBA pixels, with no image data. It is a few dozen bytes no
// matter how large the declared image is.
func PNGHeaderFixture(width, height uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], width)
	binary.BigEndian.PutUint32(ihdr[4:8], height)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // truecolor with alpha

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	crc := crc32.NewIEEE()
	crc.Write([]byte("IHDR"))
	crc.Write(ihdr)
	buf.WriteString("IHDR")
	buf.Write(ihdr)
	_ = binary.Write(&buf, binary.BigEndian, crc.Sum32())
	return buf.Bytes()
}
