package render

import (
	"context"
	"fmt"
	"strings"
)

// ImageField is the workflow input field that receives an uploaded image handle.
const ImageField = "image"

// FaceSwapResult carries the ids produced by RunFaceSwap.
type FaceSwapResult struct {
	RemoteJobID  string
	RemoteHandle string
	RemoteStatus string
}

// RunFaceSwap uploads a photo and submits workflowRef with the uploaded
// handle injected into imageNodeID's image field.
func (c *Client) RunFaceSwap(ctx context.Context, workflowRef string, photo []byte, photoFileName, imageNodeID string) (*FaceSwapResult, error) {
	imageNodeID = strings.TrimSpace(imageNodeID)
	if imageNodeID == "" {
		return nil, fmt.Errorf("%w: image node id is required", ErrSubmit)
	}
	upload, err := c.UploadResource(ctx, photo, photoFileName)
	if err != nil {
		return nil, err
	}
	submitted, err := c.SubmitJob(ctx, workflowRef, []NodeOverride{{
		NodeID:     imageNodeID,
		FieldName:  ImageField,
		FieldValue: upload.Handle,
	}})
	if err != nil {
		return nil, err
	}
	return &FaceSwapResult{
		RemoteJobID:  submitted.RemoteJobID,
		RemoteHandle: upload.Handle,
		RemoteStatus: submitted.RemoteStatus,
	}, nil
}
