package opencv

import (
	"image"
	"sync"

	"faceverify/config"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	gocv "gocv.io/x/gocv"
)

// ErrClosed wird zurückgegeben, wenn der Dienst bereits geschlossen wurde
var ErrClosed = errors.New("opencv service closed")

// Service erkennt Gesichter mit einem Haar-Cascade-Klassifikator und erzeugt
// normierte Graustufen-Ausschnitte. Er implementiert session.Detector und
// session.Canonicalizer.
type Service struct {
	cfg           config.OpenCVConfig
	canonicalSize int
	classifier    gocv.CascadeClassifier
	mutex         sync.Mutex
	closed        bool
}

// NewService lädt die Cascade-Datei aus der Konfiguration
func NewService(cfg config.OpenCVConfig, canonicalSize int) (*Service, error) {
	if canonicalSize < 3 {
		return nil, errors.Errorf("canonical size must be at least 3, got %d", canonicalSize)
	}

	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(cfg.CascadeFile) {
		classifier.Close()
		return nil, errors.Errorf("Error reading cascade file: %v", cfg.CascadeFile)
	}

	log.WithFields(log.Fields{
		"cascade":        cfg.CascadeFile,
		"canonical_size": canonicalSize,
	}).Info("OpenCV face detector initialized")

	return &Service{
		cfg:           cfg,
		canonicalSize: canonicalSize,
		classifier:    classifier,
	}, nil
}

// Detect liefert die Rahmen aller gefundenen Gesichter
func (s *Service) Detect(img image.Image) ([]image.Rectangle, error) {
	if img == nil {
		return nil, errors.New("no image")
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, errors.Wrap(err, "Can not convert image")
	}
	defer mat.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)

	equalized := gocv.NewMat()
	defer equalized.Close()
	gocv.EqualizeHist(gray, &equalized)

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	rects := s.classifier.DetectMultiScaleWithParams(
		equalized,
		s.cfg.ScaleFactor,
		s.cfg.MinNeighbors,
		0,
		image.Pt(s.cfg.MinSizeWidth, s.cfg.MinSizeHeight),
		image.Point{},
	)

	// gocv liefert Koordinaten relativ zu (0,0); auf die Bildgrenzen verschieben
	offset := img.Bounds().Min
	for i := range rects {
		rects[i] = rects[i].Add(offset)
	}

	log.Debugf("OpenCV detected %d faces", len(rects))
	return rects, nil
}

// Canonicalize schneidet das Gesicht aus, wandelt es in Graustufen, skaliert
// auf canonicalSize x canonicalSize und gleicht das Histogramm aus
func (s *Service) Canonicalize(frame image.Image, face image.Rectangle) (*image.Gray, error) {
	if frame == nil {
		return nil, errors.New("no frame")
	}

	b := frame.Bounds()
	crop := face.Intersect(b)
	if crop.Empty() {
		return nil, errors.Errorf("face %v outside of frame %v", face, b)
	}

	mat, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		return nil, errors.Wrap(err, "Can not convert frame")
	}
	defer mat.Close()

	region := mat.Region(crop.Sub(b.Min))
	defer region.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(region, &gray, gocv.ColorBGRToGray)

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(gray, &resized, image.Pt(s.canonicalSize, s.canonicalSize), 0, 0, gocv.InterpolationLinear)

	equalized := gocv.NewMat()
	defer equalized.Close()
	gocv.EqualizeHist(resized, &equalized)

	img, err := equalized.ToImage()
	if err != nil {
		return nil, errors.Wrap(err, "Can not convert face region")
	}
	out, ok := img.(*image.Gray)
	if !ok {
		return nil, errors.Errorf("unexpected image type %T", img)
	}
	return out, nil
}

// Close gibt den Klassifikator frei
func (s *Service) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.classifier.Close()
}
