package utils

import (
	"io"
	"net/http"
	"time"
)

const retryBaseDelay = 500 * time.Millisecond

// DoWithRetry runs do up to attempts times, backing off exponentially between
// tries. Only rate-limit and unavailable responses (429/503) are retried;
// every other outcome, including network errors and auth rejections, is
// returned to the caller on the first occurrence so it can be classified there.
func DoWithRetry(do func() (*http.Response, error), attempts int) (*http.Response, error) {
	if attempts < 1 {
		attempts = 1
	}
	var resp *http.Response
	var err error
	for i := 0; i < attempts; i++ {
		resp, err = do()
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusServiceUnavailable {
			return resp, nil
		}
		if i == attempts-1 {
			break
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		time.Sleep(retryBaseDelay * time.Duration(1<<i))
	}
	return resp, nil
}
