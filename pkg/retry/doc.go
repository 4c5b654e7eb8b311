// Package retry retries stage processors that fail transiently.
//
// Key Features:
//
// 1. Retry policies:
//   - FixedDelayRetry: fixed delay between attempts
//   - ExponentialBackoffRetry: multiplied delay capped by WithMaxDelay
//   - optional jitter through WithJitter
//
// 2. Retrying processor:
//   - Wrap turns any types.Processor into one that retries the whole batch
//   - errors carrying a RetryAfter hint stretch the delay
//   - context cancellation interrupts the wait
//   - attempt statistics through Stats
//
// The default condition only retries errors wrapped with types.MarkRetryable
// and types.ErrTimeout. Panics and contract violations reported by the
// wrapped processor are never retried.
//
// Basic usage example:
//
//	ocr := retry.Wrap(ocrModel,
//		retry.NewExponentialBackoffRetry(3, 200*time.Millisecond,
//			retry.WithMaxDelay(2*time.Second)),
//		retry.WithName("ocr"),
//		retry.WithLogger(logger))
//
//	p, err := pipeline.NewStandard(pipeline.StandardModels[Page]{OCR: ocr}, cfg)
//
// Custom retry conditions:
//
//	policy := retry.NewFixedDelayRetry(3, 100*time.Millisecond,
//		retry.WithRetryCondition(func(err error) bool {
//			return errors.Is(err, errModelBusy)
//		}))
//
// A retrying processor is safe for concurrent use by every stage and run
// sharing it.
package retry
