package provider_signer

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	grpc_retry "github.com/grpc-ecosystem/go-grpc-middleware/retry"
	"github.com/vulpemventures/quorum/internal/core/domain"
	"github.com/vulpemventures/quorum/internal/core/ports"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	keyServicePrefix     = "/quorum.provider.v1.KeyService/"
	methodGetKeyInfo     = keyServicePrefix + "GetKeyInfo"
	methodRegisterWallet = keyServicePrefix + "RegisterWallet"
	methodSignPsbt       = keyServicePrefix + "SignPsbt"

	maxRetries   = 3
	retryBackoff = 200 * time.Millisecond
)

// Config locates the remote key of a provider.
type Config struct {
	Service  string
	Addr     string
	Token    string
	Insecure bool
}

func (c Config) validate() error {
	if c.Service == "" {
		return fmt.Errorf("missing provider service name")
	}
	if c.Addr == "" {
		return fmt.Errorf("missing provider address")
	}
	if c.Token == "" {
		return fmt.Errorf("missing provider key token")
	}
	return nil
}

// signer is the adapter of a key held by a remote provider, reached via gRPC.
// Every request carries the key token as bearer authorization.
type signer struct {
	config Config
	conn   *grpc.ClientConn

	lock        *sync.RWMutex
	fingerprint domain.Fingerprint
}

func NewSigner(config Config) (ports.SignerAdapter, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	if config.Insecure {
		creds = insecure.NewCredentials()
	}
	conn, err := grpc.Dial(
		config.Addr,
		grpc.WithTransportCredentials(creds),
		grpc.WithUnaryInterceptor(grpc_retry.UnaryClientInterceptor(
			grpc_retry.WithMax(maxRetries),
			grpc_retry.WithBackoff(grpc_retry.BackoffLinear(retryBackoff)),
			grpc_retry.WithCodes(codes.Unavailable),
		)),
	)
	if err != nil {
		return nil, err
	}

	return &signer{
		config: config,
		conn:   conn,
		lock:   &sync.RWMutex{},
	}, nil
}

func (s *signer) ID() string {
	return fmt.Sprintf("provider:%s/%s", s.config.Service, s.config.Token)
}

func (s *signer) Kind() domain.SignerKind {
	return domain.ProviderKeyKind(s.config.Service, s.config.Token)
}

func (s *signer) Probe(ctx context.Context) domain.Presence {
	resp := &structpb.Struct{}
	if err := s.invoke(ctx, methodGetKeyInfo, nil, resp); err != nil {
		return domain.Failed(adapterError(err))
	}

	fields := resp.GetFields()
	fingerprint, err := domain.ParseFingerprint(
		fields["fingerprint"].GetStringValue(),
	)
	if err != nil {
		return domain.Failed(domain.NewAdapterError(
			domain.AdapterProtocolError, "provider returned invalid fingerprint", err,
		))
	}

	s.lock.Lock()
	s.fingerprint = fingerprint
	s.lock.Unlock()

	return domain.Ready(fingerprint, "", fields["network"].GetStringValue())
}

func (s *signer) Register(ctx context.Context, descriptor string) error {
	err := s.invoke(ctx, methodRegisterWallet, map[string]interface{}{
		"descriptor": descriptor,
	}, &structpb.Struct{})
	if err == nil {
		return nil
	}

	st, _ := status.FromError(err)
	if st.Code() == codes.Unimplemented {
		return domain.NewRegistrationError(
			domain.RegistrationUnsupported, "provider can't register wallets", err,
		)
	}
	return domain.NewRegistrationError(
		domain.RegistrationRejected, st.Message(), err,
	)
}

func (s *signer) Sign(
	ctx context.Context, psbt string,
) (*domain.PartialSignatureSet, error) {
	s.lock.RLock()
	fingerprint := s.fingerprint
	s.lock.RUnlock()
	if fingerprint.IsZero() {
		return nil, domain.NewSignError(
			domain.SignDeviceError, "provider key not reached yet", nil,
		)
	}

	resp := &structpb.Struct{}
	if err := s.invoke(
		ctx, methodSignPsbt, map[string]interface{}{"psbt": psbt}, resp,
		grpc_retry.Disable(),
	); err != nil {
		return nil, signError(err)
	}

	signed := resp.GetFields()["psbt"].GetStringValue()
	if signed == "" {
		return nil, domain.NewSignError(
			domain.SignDeviceError, "provider returned no psbt", nil,
		)
	}
	return domain.PartialSignatureSetFromPsbt(fingerprint, signed)
}

// Close closes the connection with the provider.
func (s *signer) Close() error {
	return s.conn.Close()
}

func (s *signer) invoke(
	ctx context.Context, method string, args map[string]interface{},
	resp *structpb.Struct, opts ...grpc.CallOption,
) error {
	req, err := structpb.NewStruct(args)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	ctx = metadata.AppendToOutgoingContext(
		ctx, "authorization", fmt.Sprintf("Bearer %s", s.config.Token),
	)
	return s.conn.Invoke(ctx, method, req, resp, opts...)
}

func adapterError(err error) *domain.AdapterError {
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.DeadlineExceeded, codes.Canceled:
		return domain.NewAdapterError(domain.AdapterTimeout, "provider did not answer", err)
	case codes.Unavailable:
		return domain.NewAdapterError(domain.AdapterDisconnected, "provider unreachable", err)
	case codes.Unimplemented:
		return domain.NewUnimplementedError(st.Message())
	case codes.Unauthenticated, codes.PermissionDenied:
		return domain.NewUnauthorizedError("key token rejected", err)
	default:
		return domain.NewAdapterError(domain.AdapterProtocolError, st.Message(), err)
	}
}

func signError(err error) *domain.SignError {
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.DeadlineExceeded, codes.Canceled:
		return domain.NewSignError(domain.SignTimeout, "provider did not answer", err)
	case codes.PermissionDenied, codes.Aborted:
		return domain.NewSignError(domain.SignDeclined, st.Message(), nil)
	default:
		return domain.NewSignError(domain.SignDeviceError, st.Message(), err)
	}
}
