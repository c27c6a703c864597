package server

import (
	"fmt"
	"net/http"
	"strings"

	"virtual_tryon/artifact"
	"virtual_tryon/generator"
	"virtual_tryon/pipeline"
	"virtual_tryon/pool"
)

// --- Requests ---

type cameraReq struct {
	ShotType string `json:"shot_type"` // full_body | half_body，也接受 全身/半身
	Angle    string `json:"angle"`     // front | side，也接受 正面/侧面
}

// modelParams mirrors the model form. Zero fields take the defaults of
// generator.DefaultModelSpecification.
type modelParams struct {
	Gender            string     `json:"gender"`
	Age               int        `json:"age"`
	Nationality       string     `json:"nationality"`
	Height            int        `json:"height"`
	Weight            int        `json:"weight"`
	ActionDescription string     `json:"actionDescription"`
	SceneDescription  string     `json:"sceneDescription"`
	Camera            *cameraReq `json:"camera"`
}

type generateReq struct {
	ClothingImage string `json:"clothingImage"`
	modelParams
}

type mergeReq struct {
	ClothingImage    string `json:"clothingImage"`
	ModelImagePath   string `json:"modelImagePath"`
	ShotType         string `json:"shot_type"`
	Angle            string `json:"angle"`
	PoseDescription  string `json:"pose_description"`
	SceneDescription string `json:"scene_description"`
}

type checkReq struct {
	ClothingImage string `json:"clothingImage"`
}

func (p modelParams) spec() (generator.ModelSpecification, error) {
	var camera generator.CameraSettings
	if p.Camera != nil {
		var err error
		if camera, err = parseCamera(p.Camera.ShotType, p.Camera.Angle); err != nil {
			return generator.ModelSpecification{}, err
		}
	}
	return generator.ModelSpecification{
		Gender:      p.Gender,
		Age:         p.Age,
		Nationality: p.Nationality,
		Height:      p.Height,
		Weight:      p.Weight,
		Camera:      camera,
		Action:      p.ActionDescription,
		Scene:       p.SceneDescription,
	}, nil
}

func parseCamera(shot, angle string) (generator.CameraSettings, error) {
	var c generator.CameraSettings
	switch strings.ToLower(strings.TrimSpace(shot)) {
	case "", "full_body", "全身":
		c.ShotType = generator.ShotFullBody
	case "half_body", "半身":
		c.ShotType = generator.ShotHalfBody
	default:
		return c, fmt.Errorf("unknown shot_type %q", shot)
	}
	switch strings.ToLower(strings.TrimSpace(angle)) {
	case "", "front", "正面":
		c.Angle = generator.AngleFront
	case "side", "侧面":
		c.Angle = generator.AngleSide
	default:
		return c, fmt.Errorf("unknown angle %q", angle)
	}
	return c, nil
}

// --- Responses ---

type generatedResult struct {
	GeneratedImage artifact.Metadata `json:"generated_image"`
}

type stepResult struct {
	RunID        string            `json:"run_id"`
	Description  string            `json:"description"`
	FallbackUsed bool              `json:"fallback_used"`
	ModelImage   artifact.Metadata `json:"model_image"`
	FinalImage   artifact.Metadata `json:"final_image"`
}

type modelResult struct {
	ModelImage artifact.Metadata `json:"model_image"`
}

type mergeResult struct {
	FinalImage artifact.Metadata `json:"final_image"`
}

type statusResp struct {
	Success  bool              `json:"success"`
	Provider string            `json:"provider,omitempty"`
	Stages   map[string]string `json:"stages"`
	Pool     *pool.Stats       `json:"pool,omitempty"`
}

// --- Handlers ---

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	res, ok := s.execute(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, okResp{
		Success: true,
		Result:  generatedResult{GeneratedImage: res.Final},
		Message: "Virtual try-on image generated successfully",
	})
}

func (s *Server) handleStepByStep(w http.ResponseWriter, r *http.Request) {
	res, ok := s.execute(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, okResp{
		Success: true,
		Result: stepResult{
			RunID:        res.RunID,
			Description:  res.Description,
			FallbackUsed: res.FallbackUsed,
			ModelImage:   res.Model,
			FinalImage:   res.Final,
		},
		Message: "Step-by-step generation completed successfully",
	})
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request) (pipeline.Result, bool) {
	var req generateReq
	if !s.decode(w, r, &req) {
		return pipeline.Result{}, false
	}
	spec, err := req.spec()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), string(pipeline.StageValidate))
		return pipeline.Result{}, false
	}
	ctx, cancel := s.runContext(r)
	defer cancel()
	res, err := s.pipe.Execute(ctx, pipeline.Request{GarmentImage: req.ClothingImage, Spec: spec})
	if err != nil {
		s.writeRunError(w, err)
		return pipeline.Result{}, false
	}
	return res, true
}

func (s *Server) handleModelOnly(w http.ResponseWriter, r *http.Request) {
	var req modelParams
	if !s.decode(w, r, &req) {
		return
	}
	spec, err := req.spec()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), string(pipeline.StageValidate))
		return
	}
	ctx, cancel := s.runContext(r)
	defer cancel()
	res, err := s.pipe.GenerateModel(ctx, spec)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResp{
		Success: true,
		Result:  modelResult{ModelImage: res.Model},
		Message: "Model generation completed successfully",
	})
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req mergeReq
	if !s.decode(w, r, &req) {
		return
	}
	camera, err := parseCamera(req.ShotType, req.Angle)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), string(pipeline.StageValidate))
		return
	}
	ctx, cancel := s.runContext(r)
	defer cancel()
	res, err := s.pipe.Merge(ctx, pipeline.MergeRequest{
		ModelPath:    req.ModelImagePath,
		GarmentImage: req.ClothingImage,
		Camera:       camera,
		Pose:         req.PoseDescription,
		Scene:        req.SceneDescription,
	})
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResp{
		Success: true,
		Result:  mergeResult{FinalImage: res.Final},
		Message: "Clothing merge completed successfully",
	})
}

// handleCheck is a single remote call outside the pipeline; the upload is
// removed before the response is written.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkReq
	if !s.decode(w, r, &req) {
		return
	}
	path, err := s.ingestor.Ingest(req.ClothingImage)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	defer func() {
		if err := s.store.Delete(path); err != nil {
			s.log.Warn("cleanup failed", "path", path, "error", err)
		}
	}()

	ctx, cancel := s.runContext(r)
	defer cancel()
	verdict, err := s.checker.Check(ctx, path)
	if err != nil {
		s.writeRunError(w, fmt.Errorf("clothing validation failed: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, okResp{Success: true, Result: verdict})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) status() statusResp {
	resp := statusResp{
		Success:  true,
		Provider: s.provider,
		Stages: map[string]string{
			string(pipeline.StageDescribe):   "ready",
			string(pipeline.StageSynthesize): "ready",
			string(pipeline.StageCompose):    "ready",
			"garment_check":                  "ready",
		},
	}
	if s.stats != nil {
		st := s.stats()
		resp.Pool = &st
	}
	return resp
}

// imageHandler serves generated artifacts by file name only.
func imageHandler(dir string) http.Handler {
	files := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Path
		if name == "" || strings.Contains(name, "/") || !strings.HasSuffix(name, ".jpg") {
			writeError(w, http.StatusNotFound, "Image not found", "")
			return
		}
		files.ServeHTTP(w, r)
	})
}
