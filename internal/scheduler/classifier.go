package scheduler

import (
	"strings"

	"github.com/dlctest/ticketscheduler/internal/common/schedulererrors"
)

// JobKind distinguishes training from inference jobs; the two draw on
// separate quota pools even for the same hardware.
type JobKind string

const (
	KindTraining  JobKind = "training"
	KindInference JobKind = "inference"
)

// ResourceClass is the hardware bucket a job consumes capacity from.
type ResourceClass string

const (
	ClassP38xlarge ResourceClass = "ml.p3.8xlarge"
	ClassP28xlarge ResourceClass = "ml.p2.8xlarge"
	ClassC44xlarge ResourceClass = "ml.c4.4xlarge"
	ClassC48xlarge ResourceClass = "ml.c4.8xlarge"
)

const (
	frameworkMarker   = "tensorflow"
	acceleratorMarker = "gpu"
)

// Classify derives the resource class and job kind from an image identifier.
// The kind comes from a "training"/"inference" substring; the class from a
// fixed decision table over the framework and accelerator markers. The table
// is deliberately static: the image catalog is not consulted.
func Classify(imageURI string) (ResourceClass, JobKind, error) {
	var kind JobKind
	switch {
	case strings.Contains(imageURI, string(KindTraining)):
		kind = KindTraining
	case strings.Contains(imageURI, string(KindInference)):
		kind = KindInference
	default:
		return "", "", &schedulererrors.ErrInvalidJobMetadata{
			Field:   "ECR-URI",
			Message: "image identifier names neither training nor inference",
		}
	}

	framework := strings.Contains(imageURI, frameworkMarker)
	accelerator := strings.Contains(imageURI, acceleratorMarker)
	var class ResourceClass
	switch {
	case framework && accelerator:
		class = ClassP38xlarge
	case framework:
		class = ClassC48xlarge
	case accelerator:
		class = ClassP28xlarge
	default:
		class = ClassC44xlarge
	}
	return class, kind, nil
}

// QuotaTable maps (job kind, resource class) to the maximum number of
// instances that may be reserved concurrently.
type QuotaTable map[JobKind]map[ResourceClass]int

// Limit looks up the quota for a resource class and job kind. A miss is a
// misconfiguration: the classifier can only produce classes the table is
// expected to cover.
func (q QuotaTable) Limit(class ResourceClass, kind JobKind) (int, error) {
	limits, ok := q[kind]
	if ok {
		if limit, ok := limits[class]; ok {
			return limit, nil
		}
	}
	return 0, &schedulererrors.ErrUnknownResourceClass{
		ResourceClass: string(class),
		JobKind:       string(kind),
	}
}

// DefaultQuotaTable returns the stock per-account instance limits.
func DefaultQuotaTable() QuotaTable {
	return QuotaTable{
		KindTraining: {
			ClassP38xlarge: 40,
			ClassP28xlarge: 40,
			ClassC44xlarge: 50,
			ClassC48xlarge: 50,
		},
		KindInference: {
			ClassP38xlarge: 20,
			ClassP28xlarge: 20,
			ClassC44xlarge: 30,
			ClassC48xlarge: 30,
		},
	}
}
