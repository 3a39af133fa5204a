// Package captcha generates and validates the self-contained visual
// challenge used as the terminal fallback. Generation and validation are
// deliberately co-located: the answer never leaves this process except as
// the rendered image.
package captcha

import (
	"bytes"
	"crypto/rand"
	"fmt"
	mrand "math/rand"
	"sync"
	"time"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/google/uuid"
	"golang.org/x/image/font/gofont/goregular"

	"captchad/internal/domain"
)

const (
	imageWidth  = 240
	imageHeight = 80

	noiseStrokes = 8
	noiseDots    = 60
)

// Generator produces single-use visual challenges: a fixed-length random
// digit answer rendered with per-glyph jitter plus randomized noise.
type Generator struct {
	length int
	ttl    time.Duration

	fontOnce sync.Once
	font     *truetype.Font
	fontErr  error
}

func NewGenerator(length int, ttl time.Duration) *Generator {
	if length <= 0 {
		length = domain.DefaultChallengeLength
	}
	if ttl <= 0 {
		ttl = time.Duration(domain.DefaultChallengeTTLSeconds) * time.Second
	}
	return &Generator{length: length, ttl: ttl}
}

// New draws a fresh challenge. The digit sequence comes from crypto/rand;
// visual jitter does not need to be unpredictable and uses math/rand.
func (g *Generator) New(now time.Time) (domain.Challenge, error) {
	answer, err := randomDigits(g.length)
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("draw answer: %w", err)
	}
	img, err := g.render(answer)
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("render challenge: %w", err)
	}
	return domain.Challenge{
		ID:       uuid.NewString(),
		Answer:   answer,
		ImagePNG: img,
		IssuedAt: now,
		TTL:      g.ttl,
	}, nil
}

func (g *Generator) Length() int { return g.length }

func (g *Generator) TTL() time.Duration { return g.ttl }

func randomDigits(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i := range buf {
		buf[i] = '0' + buf[i]%10
	}
	return string(buf), nil
}

func (g *Generator) glyphFont() (*truetype.Font, error) {
	g.fontOnce.Do(func() {
		g.font, g.fontErr = truetype.Parse(goregular.TTF)
	})
	return g.font, g.fontErr
}

func (g *Generator) render(answer string) ([]byte, error) {
	fnt, err := g.glyphFont()
	if err != nil {
		return nil, err
	}

	dc := gg.NewContext(imageWidth, imageHeight)
	dc.SetRGB(0.96, 0.96, 0.94)
	dc.Clear()

	step := float64(imageWidth) / float64(len(answer)+1)
	for i, r := range answer {
		size := 30 + mrand.Float64()*12
		dc.SetFontFace(truetype.NewFace(fnt, &truetype.Options{Size: size}))

		x := step*float64(i+1) + (mrand.Float64()-0.5)*10
		y := float64(imageHeight)/2 + (mrand.Float64()-0.5)*16
		angle := (mrand.Float64() - 0.5) * 0.7

		dc.Push()
		dc.RotateAbout(angle, x, y)
		dc.SetRGB(mrand.Float64()*0.5, mrand.Float64()*0.5, mrand.Float64()*0.5)
		dc.DrawStringAnchored(string(r), x, y, 0.5, 0.5)
		dc.Pop()
	}

	for i := 0; i < noiseStrokes; i++ {
		dc.SetRGBA(mrand.Float64(), mrand.Float64(), mrand.Float64(), 0.2+mrand.Float64()*0.5)
		dc.SetLineWidth(1 + mrand.Float64()*2)
		x1, y1 := mrand.Float64()*imageWidth, mrand.Float64()*imageHeight
		// Bias strokes toward crossing the glyph band.
		x2 := x1 + (mrand.Float64()-0.5)*imageWidth
		y2 := y1 + (mrand.Float64()-0.5)*imageHeight
		cx := (x1+x2)/2 + (mrand.Float64()-0.5)*40
		cy := (y1+y2)/2 + (mrand.Float64()-0.5)*40
		dc.MoveTo(x1, y1)
		dc.QuadraticTo(cx, cy, x2, y2)
		dc.Stroke()
	}

	for i := 0; i < noiseDots; i++ {
		dc.SetRGBA(mrand.Float64(), mrand.Float64(), mrand.Float64(), 0.3+mrand.Float64()*0.6)
		r := 0.5 + mrand.Float64()*1.5
		dc.DrawCircle(mrand.Float64()*imageWidth, mrand.Float64()*imageHeight, r)
		dc.Fill()
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Validate applies the exact-match rule: input shorter than the answer is
// "still typing", full-length input must match exactly, and an expired
// challenge never validates.
func Validate(ch domain.Challenge, input string, now time.Time) error {
	if ch.Expired(now) {
		return domain.ErrChallengeExpired
	}
	if len(input) < len(ch.Answer) {
		return nil
	}
	if input != ch.Answer {
		return domain.ErrChallengeMismatch
	}
	return nil
}

// Solved reports whether input is a complete, correct answer right now.
func Solved(ch domain.Challenge, input string, now time.Time) bool {
	return !ch.Expired(now) && len(input) >= len(ch.Answer) && input == ch.Answer
}
