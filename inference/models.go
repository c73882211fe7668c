package inference

// Job is the opaque handle to an in-flight queue request.
type Job struct {
	RequestID   string `json:"request_id"`
	Model       string `json:"-"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
}

// Result is the terminal payload of a completed job. Its shape depends on
// the model family and is a collaborator contract: video models return
// {video:{url}}, speech models return {audio_url:{url}}.
type Result map[string]any

// VideoURL extracts the video output URL, or "" when absent.
func (r Result) VideoURL() string {
	return r.nestedURL("video")
}

// AudioURL extracts the audio output URL, or "" when absent.
func (r Result) AudioURL() string {
	return r.nestedURL("audio_url")
}

func (r Result) nestedURL(key string) string {
	if r == nil {
		return ""
	}
	nested, ok := r[key].(map[string]any)
	if !ok {
		return ""
	}
	url, _ := nested["url"].(string)
	return url
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Logs   []struct {
		Message string `json:"message"`
	} `json:"logs"`
}
