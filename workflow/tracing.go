package workflow

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/blingmoon/approval-workflow/workflow"

func (s *WorkflowEngineImpl) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "workflow."+operation, trace.WithAttributes(attrs...))
}

// finishSpan 记录错误并结束span, 同时按错误分类计数
func (s *WorkflowEngineImpl) finishSpan(span trace.Span, operation string, err error) {
	if err != nil {
		setSpanError(span, err)
		s.opts.Metrics.operationFailed(operation, err)
	}
	span.End()
}

func setSpanError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.AddEvent("error_occurred", trace.WithAttributes(
		append(attrs, attribute.String("error.kind", ErrorKind(err)))...,
	))
}
