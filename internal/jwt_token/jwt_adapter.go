package jwttoken

import (
	"tutela/internal/platform/middleware"
)

func ToMiddlewareClaims(claims *Claims) *middleware.OperatorClaims {
	return &middleware.OperatorClaims{
		OperatorID: claims.OperatorID,
		Roles:      claims.Roles,
	}
}

// ServiceAdapter lets the token service stand in as the auth middleware's
// validator.
type ServiceAdapter struct {
	service *Service
}

func NewServiceAdapter(service *Service) *ServiceAdapter {
	return &ServiceAdapter{service: service}
}

func (a *ServiceAdapter) ValidateToken(tokenString string) (*middleware.OperatorClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return ToMiddlewareClaims(claims), nil
}
