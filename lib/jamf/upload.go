// Copyright 2026 The Jamfup Authors
// SPDX-License-Identifier: Apache-2.0

package jamf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jamfup/jamfup/lib/clock"
)

// UploadPackageFile streams the local file to the package's upload
// endpoint as a single multipart part named "file" with an explicit
// declared length.
//
// The length is read from filesystem metadata once, before the first
// attempt — the file must not change mid-operation. Up to the
// configured attempt budget (default 3), failed attempts are retried
// only when the server answered 5xx, with a fixed cooldown between
// attempts; any 4xx or transport failure aborts immediately.
// Exhausting the budget surfaces the last server failure.
func (client *Client) UploadPackageFile(ctx context.Context, id, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("jamf: reading metadata for %s: %w", path, err)
	}
	fileName := filepath.Base(path)

	attempts := 0
	operation := func() error {
		attempts++
		err := client.uploadOnce(ctx, id, path, fileName, info.Size())
		if err == nil {
			return nil
		}

		var uploadError *UploadError
		if errors.As(err, &uploadError) && isServerError(uploadError.StatusCode) {
			return err
		}
		return backoff.Permanent(err)
	}

	notify := func(err error, wait time.Duration) {
		client.logger.Warn("package upload failed, retrying",
			"package_id", id,
			"attempt", attempts,
			"max_attempts", client.uploadAttempts,
			"wait", wait,
			"error", err,
		)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewConstantBackOff(client.uploadRetryInterval),
			uint64(client.uploadAttempts-1),
		),
		ctx,
	)

	err = backoff.RetryNotifyWithTimer(operation, policy, notify, newClockTimer(client.clock))
	if err != nil {
		var uploadError *UploadError
		if errors.As(err, &uploadError) {
			uploadError.Attempts = attempts
			uploadError.Exhausted = isServerError(uploadError.StatusCode) && attempts >= client.uploadAttempts
		}
		return err
	}
	return nil
}

// uploadOnce performs a single multipart upload attempt. Non-2xx
// responses become *UploadError; transport failures are returned as
// wrapped plain errors (and are not retried).
func (client *Client) uploadOnce(ctx context.Context, id, path, fileName string, size int64) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("jamf: opening %s: %w", path, err)
	}
	defer file.Close()

	// Build the multipart framing up front so the request can declare
	// an exact Content-Length while the payload itself streams from
	// disk: head (boundary + part headers) ++ file bytes ++ tail
	// (closing boundary).
	var head bytes.Buffer
	writer := multipart.NewWriter(&head)
	partHeader := make(textproto.MIMEHeader)
	partHeader.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName))
	partHeader.Set("Content-Type", "application/octet-stream")
	if _, err := writer.CreatePart(partHeader); err != nil {
		return fmt.Errorf("jamf: building multipart request: %w", err)
	}
	tail := fmt.Sprintf("\r\n--%s--\r\n", writer.Boundary())

	requestBody := io.MultiReader(bytes.NewReader(head.Bytes()), file, strings.NewReader(tail))
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, client.baseURL+"/api/v1/packages/"+id+"/upload", requestBody)
	if err != nil {
		return fmt.Errorf("jamf: creating upload request: %w", err)
	}
	request.ContentLength = int64(head.Len()) + size + int64(len(tail))
	request.Header.Set("Content-Type", writer.FormDataContentType())
	request.Header.Set("Authorization", "Bearer "+client.token)
	request.Header.Set("Accept", "application/json")

	response, err := client.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("jamf: uploading %s: %w", fileName, err)
	}
	defer response.Body.Close()

	body, err := readBody(response.Body)
	if err != nil {
		return fmt.Errorf("jamf: reading upload response: %w", err)
	}
	if !isSuccess(response.StatusCode) {
		return &UploadError{PackageID: id, StatusCode: response.StatusCode, Body: string(body)}
	}
	return nil
}

// clockTimer adapts lib/clock to the backoff Timer interface so retry
// waits run on the injected clock and tests stay deterministic.
type clockTimer struct {
	clock   clock.Clock
	channel <-chan time.Time
}

func newClockTimer(clk clock.Clock) *clockTimer {
	return &clockTimer{clock: clk}
}

func (timer *clockTimer) Start(duration time.Duration) {
	timer.channel = timer.clock.After(duration)
}

func (timer *clockTimer) C() <-chan time.Time { return timer.channel }

func (timer *clockTimer) Stop() {}
