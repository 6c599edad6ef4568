package scheduler

import (
	"context"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	cbtypes "github.com/aws/aws-sdk-go-v2/service/codebuild/types"
	"github.com/pkg/errors"

	"github.com/dlctest/ticketscheduler/internal/common/schedulererrors"
)

// JobDescriptor carries everything the execution service needs to run one
// admitted test job.
type JobDescriptor struct {
	ImageURI       string
	BuildContext   string
	ReturnQueueURL string
	TicketKey      string
	Instances      int
}

// ExecutionTrigger starts an admitted job on the external execution service.
// A returned error means the job did not start; the ticket stays pending and
// is routed through the retry policy.
type ExecutionTrigger interface {
	Trigger(ctx context.Context, job JobDescriptor) error
}

// CodeBuildApi is the subset of the CodeBuild client used by the trigger.
type CodeBuildApi interface {
	StartBuild(ctx context.Context, params *codebuild.StartBuildInput, optFns ...func(*codebuild.Options)) (*codebuild.StartBuildOutput, error)
}

// CodeBuildTrigger starts jobs by launching a build of a fixed executor
// project, passing the job descriptor through environment variable overrides.
type CodeBuildTrigger struct {
	client  CodeBuildApi
	project string
	region  string
}

func NewCodeBuildTrigger(client CodeBuildApi, project string, region string) *CodeBuildTrigger {
	return &CodeBuildTrigger{client: client, project: project, region: region}
}

func (t *CodeBuildTrigger) Trigger(ctx context.Context, job JobDescriptor) error {
	input := &codebuild.StartBuildInput{
		ProjectName: aws.String(t.project),
		EnvironmentVariablesOverride: []cbtypes.EnvironmentVariable{
			plaintextVariable("PYTHONBUFFERED", "1"),
			plaintextVariable("REGION", t.region),
			plaintextVariable("DLC_IMAGE", job.ImageURI),
			plaintextVariable("BUILD_CONTEXT", job.BuildContext),
			plaintextVariable("TEST_TYPE", "sagemaker"),
			plaintextVariable("RETURN_SQS_URL", job.ReturnQueueURL),
			plaintextVariable("TICKET_NAME", job.TicketKey),
			plaintextVariable("INSTANCES_NUM", strconv.Itoa(job.Instances)),
		},
	}
	if _, err := t.client.StartBuild(ctx, input); err != nil {
		return &schedulererrors.ErrTriggerFailure{
			Project: t.project,
			Reason:  triggerFailureReason(err),
			Message: err.Error(),
		}
	}
	return nil
}

// triggerFailureReason classifies the known StartBuild failure modes. All of
// them are soft from the scheduler's point of view; the category only shows
// up in logs and the dead-letter trail.
func triggerFailureReason(err error) string {
	var invalidInput *cbtypes.InvalidInputException
	if errors.As(err, &invalidInput) {
		return "invalid-input"
	}
	var notFound *cbtypes.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return "project-not-found"
	}
	var accountLimit *cbtypes.AccountLimitExceededException
	if errors.As(err, &accountLimit) {
		return "account-limit"
	}
	return "unknown"
}

func plaintextVariable(name, value string) cbtypes.EnvironmentVariable {
	return cbtypes.EnvironmentVariable{
		Name:  aws.String(name),
		Value: aws.String(value),
		Type:  cbtypes.EnvironmentVariableTypePlaintext,
	}
}
