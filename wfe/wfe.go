// Package wfe is the HTTP front end of the CA.
package wfe

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/letsencrypt/pebble-pki/api"
	"github.com/letsencrypt/pebble-pki/ca"
	"github.com/letsencrypt/pebble-pki/caa"
	"github.com/letsencrypt/pebble-pki/chain"
	"github.com/letsencrypt/pebble-pki/core"
	"github.com/letsencrypt/pebble-pki/db"
	"github.com/letsencrypt/pebble-pki/x509"
)

const (
	directoryPath = "/dir"
	noncePath     = "/nonce"
	issuePath     = "/issue"
	certPath      = "/cert/"
	statusPath    = "/status/"
	revokePath    = "/revoke"
	crlPath       = "/crl"
	rootsPath     = "/roots"
	verifyPath    = "/verify"

	pemChainType = "application/pem-certificate-chain"
	crlType      = "application/pkix-crl"
	pkcs10Type   = "application/pkcs10"

	crlCacheKey = "crl"

	defaultRequestTimeout = time.Minute
	defaultCRLCacheTTL    = time.Minute
)

type requestEvent struct {
	ClientAddr string `json:",omitempty"`
	Endpoint   string `json:",omitempty"`
	Method     string `json:",omitempty"`
	UserAgent  string `json:",omitempty"`
	Serial     string `json:",omitempty"`
	Error      string `json:",omitempty"`
}

type wfeHandlerFunc func(context.Context, *requestEvent, http.ResponseWriter, *http.Request)

func (f wfeHandlerFunc) ServeHTTP(e *requestEvent, w http.ResponseWriter, r *http.Request) {
	f(context.Background(), e, w, r)
}

type wfeHandler interface {
	ServeHTTP(e *requestEvent, w http.ResponseWriter, r *http.Request)
}

type topHandler struct {
	wfe wfeHandler
}

func (th *topHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rEvent := &requestEvent{
		ClientAddr: r.RemoteAddr,
		Method:     r.Method,
		UserAgent:  r.Header.Get("User-Agent"),
	}
	th.wfe.ServeHTTP(rEvent, w, r)
}

// statusRecorder remembers the status code for the request log.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

type Config struct {
	RequestTimeout time.Duration
	NonceLifetime  time.Duration
	// CRLCacheTTL bounds how long a signed CRL is served before a new one
	// is generated. A revocation always invalidates it.
	CRLCacheTTL time.Duration
}

type WebFrontEndImpl struct {
	log   *logrus.Entry
	ca    *ca.CAImpl
	db    db.Store
	nonce *nonceMap
	crls  *cache.Cache

	requestTimeout time.Duration
	crlTTL         time.Duration
}

func New(log *logrus.Entry, authority *ca.CAImpl, store db.Store, cfg Config) *WebFrontEndImpl {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.CRLCacheTTL <= 0 {
		cfg.CRLCacheTTL = defaultCRLCacheTTL
	}
	return &WebFrontEndImpl{
		log:            log,
		ca:             authority,
		db:             store,
		nonce:          newNonceMap(cfg.NonceLifetime),
		crls:           cache.New(cfg.CRLCacheTTL, 2*cfg.CRLCacheTTL),
		requestTimeout: cfg.RequestTimeout,
		crlTTL:         cfg.CRLCacheTTL,
	}
}

func (wfe *WebFrontEndImpl) HandleFunc(
	mux *http.ServeMux,
	pattern string,
	handler wfeHandlerFunc,
	methods ...string) {

	methodsMap := make(map[string]bool)
	for _, m := range methods {
		methodsMap[m] = true
	}

	if methodsMap[http.MethodGet] && !methodsMap[http.MethodHead] {
		// Allow HEAD for any resource that allows GET
		methods = append(methods, http.MethodHead)
		methodsMap[http.MethodHead] = true
	}

	methodsStr := strings.Join(methods, ", ")
	defaultHandler := http.StripPrefix(pattern,
		&topHandler{
			wfe: wfeHandlerFunc(func(ctx context.Context, logEvent *requestEvent, w http.ResponseWriter, request *http.Request) {
				response := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
				response.Header().Set("Replay-Nonce", wfe.nonce.createNonce())

				logEvent.Endpoint = pattern
				if request.URL != nil {
					logEvent.Endpoint = path.Join(logEvent.Endpoint, request.URL.Path)
				}

				addNoCacheHeader(response)

				if !methodsMap[request.Method] {
					response.Header().Set("Allow", methodsStr)
					wfe.sendError(api.MethodNotAllowed(), response)
				} else {
					ctx, cancel := context.WithTimeout(ctx, wfe.requestTimeout)
					handler(ctx, logEvent, response, request)
					cancel()
				}
				wfe.logRequest(logEvent, response.code)
			},
			)})
	mux.Handle(pattern, defaultHandler)
}

func (wfe *WebFrontEndImpl) logRequest(e *requestEvent, code int) {
	entry := wfe.log.WithFields(logrus.Fields{
		"client":    e.ClientAddr,
		"endpoint":  e.Endpoint,
		"method":    e.Method,
		"userAgent": e.UserAgent,
		"code":      code,
	})
	if e.Serial != "" {
		entry = entry.WithField("serial", e.Serial)
	}
	if e.Error != "" {
		entry.WithField("error", e.Error).Warn("Request failed")
		return
	}
	entry.Info("Request served")
}

func (wfe *WebFrontEndImpl) sendError(prob *api.ProblemDetails, response http.ResponseWriter) {
	problemDoc, err := marshalIndent(prob)
	if err != nil {
		problemDoc = []byte("{\"detail\": \"Problem marshalling error message.\"}")
	}

	response.Header().Set("Content-Type", "application/problem+json")
	response.WriteHeader(prob.HTTPStatus)
	_, _ = response.Write(problemDoc)
}

// fail records err on the request event and sends its problem document.
func (wfe *WebFrontEndImpl) fail(logEvent *requestEvent, response http.ResponseWriter, err error) {
	prob := problemFor(err)
	logEvent.Error = err.Error()
	if prob.HTTPStatus >= http.StatusInternalServerError {
		wfe.log.WithError(err).Error("Internal error")
	}
	wfe.sendError(prob, response)
}

// problemFor maps errors from the CA, the chain validator and the store to
// problem documents.
func problemFor(err error) *api.ProblemDetails {
	var (
		prob     *api.ProblemDetails
		caErr    *ca.Error
		chainErr *chain.Error
	)
	switch {
	case errors.As(err, &prob):
		return prob
	case errors.Is(err, caa.ErrForbidden):
		return api.CAAProblem(err.Error())
	case errors.Is(err, ca.ErrMalformedRequest):
		return api.BadCSRProblem(err.Error())
	case errors.As(err, &caErr):
		if caErr.Code == ca.CodeInvalidProofOfPossession {
			return api.BadCSRProblem(err.Error())
		}
		return api.PolicyViolationProblem(err.Error())
	case errors.As(err, &chainErr):
		return api.InvalidChainProblem(chainErr.Code.String(), err.Error())
	case errors.Is(err, db.ErrNotFound):
		return api.NotFoundProblem(err.Error())
	case errors.Is(err, ca.ErrAlreadyRevoked):
		return api.AlreadyRevokedProblem(err.Error())
	case errors.Is(err, ca.ErrBadReason):
		return api.BadRevocationReasonProblem(err.Error())
	case errors.Is(err, ca.ErrNotRevocable):
		return api.UnauthorizedProblem(err.Error())
	}
	return api.InternalErrorProblem(err.Error())
}

func (wfe *WebFrontEndImpl) Handler() http.Handler {
	m := http.NewServeMux()
	wfe.HandleFunc(m, directoryPath, wfe.Directory, http.MethodGet)
	wfe.HandleFunc(m, noncePath, wfe.Nonce, http.MethodGet)
	wfe.HandleFunc(m, issuePath, wfe.Issue, http.MethodPost)
	wfe.HandleFunc(m, certPath, wfe.Certificate, http.MethodGet)
	wfe.HandleFunc(m, statusPath, wfe.Status, http.MethodGet)
	wfe.HandleFunc(m, revokePath, wfe.Revoke, http.MethodPost)
	wfe.HandleFunc(m, crlPath, wfe.CRL, http.MethodGet)
	wfe.HandleFunc(m, rootsPath, wfe.Roots, http.MethodGet)
	wfe.HandleFunc(m, verifyPath, wfe.Verify, http.MethodPost)
	return m
}

func (wfe *WebFrontEndImpl) Directory(
	ctx context.Context,
	logEvent *requestEvent,
	response http.ResponseWriter,
	request *http.Request) {

	directoryEndpoints := map[string]string{
		api.ResourceNonce:  noncePath,
		api.ResourceIssue:  issuePath,
		api.ResourceCert:   certPath,
		api.ResourceStatus: statusPath,
		api.ResourceRevoke: revokePath,
		api.ResourceCRL:    crlPath,
		api.ResourceRoots:  rootsPath,
		api.ResourceVerify: verifyPath,
	}

	relDir, err := wfe.relativeDirectory(request, directoryEndpoints)
	if err != nil {
		wfe.fail(logEvent, response, err)
		return
	}
	response.Header().Set("Content-Type", "application/json")
	_, _ = response.Write(relDir)
}

func (wfe *WebFrontEndImpl) relativeDirectory(request *http.Request, directory map[string]string) ([]byte, error) {
	// Create an empty map sized equal to the provided directory to store the
	// relative-ized result
	relativeDir := make(map[string]string, len(directory))

	for k, v := range directory {
		relativeDir[k] = wfe.relativeEndpoint(request, v)
	}

	return marshalIndent(relativeDir)
}

func (wfe *WebFrontEndImpl) relativeEndpoint(request *http.Request, endpoint string) string {
	proto := "http"
	host := request.Host

	// If the request was received via TLS, use `https://` for the protocol
	if request.TLS != nil {
		proto = "https"
	}

	// Allow upstream proxies  to specify the forwarded protocol. Allow this value
	// to override our own guess.
	if specifiedProto := request.Header.Get("X-Forwarded-Proto"); specifiedProto != "" {
		proto = specifiedProto
	}

	// Default to "localhost" when no request.Host is provided. Otherwise requests
	// with an empty `Host` produce results like `http:///issue`
	if request.Host == "" {
		host = "localhost"
	}

	resultURL := url.URL{Scheme: proto, Host: host, Path: endpoint}
	return resultURL.String()
}

func (wfe *WebFrontEndImpl) Nonce(
	ctx context.Context,
	logEvent *requestEvent,
	response http.ResponseWriter,
	request *http.Request) {

	if request.Method == http.MethodGet {
		response.WriteHeader(http.StatusNoContent)
	}
}

// Issue accepts a DER request (application/pkcs10), a PEM request, or a
// JSON api.IssueRequest and answers with the PEM chain.
func (wfe *WebFrontEndImpl) Issue(
	ctx context.Context,
	logEvent *requestEvent,
	response http.ResponseWriter,
	request *http.Request) {

	body, err := io.ReadAll(io.LimitReader(request.Body, maxRequestSize))
	if err != nil {
		wfe.sendError(api.InternalErrorProblem("unable to read request body"), response)
		return
	}
	der, prob := csrFromBody(request.Header.Get("Content-Type"), body)
	if prob != nil {
		logEvent.Error = prob.Detail
		wfe.sendError(prob, response)
		return
	}

	cert, err := wfe.ca.IssueRequest(ctx, der)
	if err != nil {
		wfe.fail(logEvent, response, err)
		return
	}
	logEvent.Serial = cert.ID

	response.Header().Set("Location", wfe.relativeEndpoint(request, certPath+cert.ID))
	response.Header().Set("Content-Type", pemChainType)
	response.WriteHeader(http.StatusCreated)
	_, _ = response.Write(cert.Chain())
}

func csrFromBody(contentType string, body []byte) ([]byte, *api.ProblemDetails) {
	mediaType := ""
	if contentType != "" {
		var err error
		if mediaType, _, err = mime.ParseMediaType(contentType); err != nil {
			return nil, api.MalformedProblem("invalid Content-Type")
		}
	}
	switch mediaType {
	case pkcs10Type:
		return body, nil
	case "application/x-pem-file":
		block, _ := pem.Decode(body)
		if block == nil || block.Type != "CERTIFICATE REQUEST" {
			return nil, api.BadCSRProblem("no CERTIFICATE REQUEST block in body")
		}
		return block.Bytes, nil
	case "", "application/json":
		var req api.IssueRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, api.MalformedProblem("error unmarshaling JSON body")
		}
		der, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(req.CSR, "="))
		if err != nil || len(der) == 0 {
			return nil, api.BadCSRProblem("csr is not base64url encoded")
		}
		return der, nil
	}
	return nil, api.UnsupportedMediaTypeProblem(fmt.Sprintf("unsupported Content-Type %q", mediaType))
}

// parseSerial accepts the hex serial used in certificate URLs.
func parseSerial(s string) (*big.Int, bool) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	if s == "" {
		return nil, false
	}
	serial, ok := new(big.Int).SetString(s, 16)
	if !ok || serial.Sign() <= 0 {
		return nil, false
	}
	return serial, true
}

func (wfe *WebFrontEndImpl) lookupCertificate(logEvent *requestEvent, response http.ResponseWriter, request *http.Request) *core.Certificate {
	serial, ok := parseSerial(request.URL.Path)
	if !ok {
		wfe.sendError(api.NotFoundProblem("not a certificate serial"), response)
		return nil
	}
	cert, err := wfe.db.GetCertificateBySerial(serial)
	if err != nil {
		wfe.fail(logEvent, response, err)
		return nil
	}
	logEvent.Serial = cert.ID
	return cert
}

func (wfe *WebFrontEndImpl) Certificate(
	ctx context.Context,
	logEvent *requestEvent,
	response http.ResponseWriter,
	request *http.Request) {

	cert := wfe.lookupCertificate(logEvent, response, request)
	if cert == nil {
		return
	}
	response.Header().Set("Content-Type", pemChainType)
	_, _ = response.Write(cert.Chain())
}

func (wfe *WebFrontEndImpl) Status(
	ctx context.Context,
	logEvent *requestEvent,
	response http.ResponseWriter,
	request *http.Request) {

	cert := wfe.lookupCertificate(logEvent, response, request)
	if cert == nil {
		return
	}
	doc := api.Certificate{
		Serial:    cert.ID,
		Subject:   cert.Cert.Subject().String(),
		Issuer:    cert.Cert.Issuer().String(),
		NotBefore: cert.Cert.TBS.Validity.NotBefore,
		NotAfter:  cert.Cert.TBS.Validity.NotAfter,
		Status:    api.StatusValid,
	}
	if names, ok, err := cert.Cert.SubjectAltName(); ok && err == nil {
		doc.DNSNames = names.DNSNames()
	}
	rc, err := wfe.db.GetRevokedCertificateBySerial(cert.Cert.SerialNumber())
	switch {
	case err == nil:
		doc.Status = api.StatusRevoked
		doc.RevokedAt = lo.ToPtr(rc.RevokedAt)
		doc.Reason = lo.ToPtr(int(rc.Reason))
	case !errors.Is(err, db.ErrNotFound):
		wfe.fail(logEvent, response, err)
		return
	}

	body, err := marshalIndent(doc)
	if err != nil {
		wfe.fail(logEvent, response, err)
		return
	}
	response.Header().Set("Content-Type", "application/json")
	_, _ = response.Write(body)
}

// Revoke takes a JWS-signed api.RevokeRequest. The JWS must be signed by
// the key of the certificate being revoked.
func (wfe *WebFrontEndImpl) Revoke(
	ctx context.Context,
	logEvent *requestEvent,
	response http.ResponseWriter,
	request *http.Request) {

	body, jwk, prob := wfe.verifyPOST(request, revokePath)
	if prob != nil {
		logEvent.Error = prob.Detail
		wfe.sendError(prob, response)
		return
	}

	var req api.RevokeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		wfe.sendError(api.MalformedProblem("error unmarshaling JSON payload"), response)
		return
	}
	serial, ok := parseSerial(req.Serial)
	if !ok {
		wfe.sendError(api.MalformedProblem("payload has no valid serial"), response)
		return
	}
	cert, err := wfe.db.GetCertificateBySerial(serial)
	if err != nil {
		wfe.fail(logEvent, response, err)
		return
	}
	logEvent.Serial = cert.ID

	certKey, err := cert.Cert.PublicKey()
	if err != nil || !keyDigestEquals(jwk, certKey) {
		wfe.sendError(api.UnauthorizedProblem("JWS is not signed by the certificate's key"), response)
		return
	}

	reason := x509.ReasonUnspecified
	if req.Reason != nil {
		reason = x509.CRLReason(*req.Reason)
	}
	if _, err := wfe.ca.Revoke(serial, reason); err != nil {
		wfe.fail(logEvent, response, err)
		return
	}
	wfe.crls.Delete(crlCacheKey)
	response.WriteHeader(http.StatusOK)
}

// currentCRL returns the cached CRL or signs a new one.
func (wfe *WebFrontEndImpl) currentCRL() (*x509.CertificateList, error) {
	if cached, ok := wfe.crls.Get(crlCacheKey); ok {
		return cached.(*x509.CertificateList), nil
	}
	crl, err := wfe.ca.CRL()
	if err != nil {
		return nil, err
	}
	wfe.crls.Set(crlCacheKey, crl, wfe.crlTTL)
	return crl, nil
}

func (wfe *WebFrontEndImpl) CRL(
	ctx context.Context,
	logEvent *requestEvent,
	response http.ResponseWriter,
	request *http.Request) {

	crl, err := wfe.currentCRL()
	if err != nil {
		wfe.fail(logEvent, response, err)
		return
	}
	response.Header().Set("Content-Type", crlType)
	_, _ = response.Write(crl.Raw)
}

func (wfe *WebFrontEndImpl) Roots(
	ctx context.Context,
	logEvent *requestEvent,
	response http.ResponseWriter,
	request *http.Request) {

	response.Header().Set("Content-Type", pemChainType)
	_, _ = response.Write(wfe.ca.Root().PEM())
}

// Verify validates a PEM chain, leaf first, against the CA's root. The
// body is either the PEM itself or a JSON api.VerifyRequest.
func (wfe *WebFrontEndImpl) Verify(
	ctx context.Context,
	logEvent *requestEvent,
	response http.ResponseWriter,
	request *http.Request) {

	body, err := io.ReadAll(io.LimitReader(request.Body, maxRequestSize))
	if err != nil {
		wfe.sendError(api.InternalErrorProblem("unable to read request body"), response)
		return
	}
	var req api.VerifyRequest
	if mediaType, _, _ := mime.ParseMediaType(request.Header.Get("Content-Type")); mediaType == pemChainType {
		req.Chain = string(body)
	} else if err := json.Unmarshal(body, &req); err != nil {
		wfe.sendError(api.MalformedProblem("error unmarshaling JSON body"), response)
		return
	}

	certs, err := core.ParsePEMCertificates([]byte(req.Chain))
	if err != nil {
		wfe.sendError(api.MalformedProblem(err.Error()), response)
		return
	}

	var crl *x509.CertificateList
	if req.CheckRevocation {
		if crl, err = wfe.currentCRL(); err != nil {
			wfe.fail(logEvent, response, err)
			return
		}
	}
	validated, err := wfe.ca.Validator(crl).Validate(certs[0], certs[1:])
	if err != nil {
		wfe.fail(logEvent, response, err)
		return
	}

	result := api.Verification{
		Valid: true,
		Path: lo.Map(validated, func(c *x509.Certificate, _ int) api.PathElement {
			return api.PathElement{Subject: c.Subject().String(), Serial: core.SerialID(c.SerialNumber())}
		}),
	}
	doc, err := marshalIndent(result)
	if err != nil {
		wfe.fail(logEvent, response, err)
		return
	}
	response.Header().Set("Content-Type", "application/json")
	_, _ = response.Write(doc)
}

func addNoCacheHeader(response http.ResponseWriter) {
	response.Header().Add("Cache-Control", "public, max-age=0, no-cache")
}

func marshalIndent(v interface{}) ([]byte, error) {
	return json.MarshalIndent(v, "", "   ")
}
