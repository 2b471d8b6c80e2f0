package otel

import (
	"context"

	"go.opentelemetry.io/otel/metric"

	"github.com/kilnworks/kiln/lib/images"
)

// ImageMetrics holds metrics for the image store.
type ImageMetrics struct {
	ImagesTotal metric.Int64ObservableGauge
	SizeBytes   metric.Int64ObservableGauge
}

// NewImageMetrics creates metrics for the image store. Both gauges are
// observed from the store on every export.
func NewImageMetrics(meter metric.Meter, store images.Manager) (*ImageMetrics, error) {
	imagesTotal, err := meter.Int64ObservableGauge(
		"kiln_images_total",
		metric.WithDescription("Number of committed image records"),
	)
	if err != nil {
		return nil, err
	}

	sizeBytes, err := meter.Int64ObservableGauge(
		"kiln_images_size_bytes",
		metric.WithDescription("Combined size of committed images"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		imgs, err := store.ListImages(ctx)
		if err != nil {
			return err
		}
		var total int64
		for _, img := range imgs {
			total += img.SizeBytes
		}
		o.ObserveInt64(imagesTotal, int64(len(imgs)))
		o.ObserveInt64(sizeBytes, total)
		return nil
	}, imagesTotal, sizeBytes)
	if err != nil {
		return nil, err
	}

	return &ImageMetrics{
		ImagesTotal: imagesTotal,
		SizeBytes:   sizeBytes,
	}, nil
}

// RegistryMetrics holds metrics for the embedded registry.
type RegistryMetrics struct {
	ManifestPushes metric.Int64Counter
}

// NewRegistryMetrics creates metrics for the embedded registry.
func NewRegistryMetrics(meter metric.Meter) (*RegistryMetrics, error) {
	manifestPushes, err := meter.Int64Counter(
		"kiln_registry_manifest_pushes_total",
		metric.WithDescription("Total number of manifests pushed to the embedded registry"),
	)
	if err != nil {
		return nil, err
	}

	return &RegistryMetrics{
		ManifestPushes: manifestPushes,
	}, nil
}
